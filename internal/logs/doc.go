// Package logs reads the daemon's log file for the CLI.
//
// Last returns the final N matching lines with bounded memory, and Follow
// streams lines appended after an offset until the context ends. Both accept
// a substring filter so `marquee logs --cycle <id>` can isolate one cycle.
package logs
