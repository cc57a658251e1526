// Package download defines the contract between localmesh and the subsystem
// that materializes model weights on local storage, plus a filesystem backed
// reference implementation.
//
// The model-access layer never touches files itself. It asks a Directory
// whether a slug is persisted, whether someone else is already fetching it,
// starts (or attaches to) a download Task and waits for it with a bound.
//
// # Layout
//
// LocalDirectory stores every slug as a single file (or directory) named after
// the slug below its root. Slugs are slash separated relative paths such as
// "org/model"; absolute slugs and slugs containing ".." are rejected with
// ErrInvalidSlug. While a download runs, the directory holds an exclusive
// advisory lock on a ".<escaped slug>.lock" marker in the root so other
// processes sharing the root observe the download as "in progress elsewhere".
// The operating system drops the lock when its holder exits, so a marker left
// behind by a crashed process does not block later downloads. Data is written
// to "<slug>.partial" and renamed into place once the Fetcher succeeds.
package download
