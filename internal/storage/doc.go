// Package storage relocates media assets between locations on a backend.
//
// Every Mover honors two guarantees: a partial move leaves the source or the
// destination present, and moving a ref that was already moved succeeds
// without doing anything. Errors carry services.ErrTransient or
// services.ErrPermanent so callers can decide between retrying and giving up.
//
// Backends are selected through a tagged Config resolved by a ConfigLookup;
// a Registry builds one Mover per backend kind on first use.
package storage
