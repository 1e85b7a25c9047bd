// Package core provides the business logic for renaming product photos.
//
// Photos named after an internal product code (the first five characters of
// the filename) are renamed to SKU_CODE_NN, re-encoded as JPEG and listed in
// an annotated copy of the code to SKU table. The package has no UI or
// transport dependencies; the web server and the CLI both drive it.
//
// # Flow
//
//  1. [LoadMapping] reads the CODE to SKU table, falling back through
//     [EncodingFallback] until the required columns are found.
//  2. [ScanDir] or [OpenZip] enumerates the images, at most
//     [MaxImagesPerGroup] per folder.
//  3. [Engine.Process] renames and re-encodes each image into a [Sink],
//     recording per-image failures without stopping.
//  4. [WriteAnnotatedCSV] appends the IMAGES column to the table.
//
// [Service] wraps these steps in background runs with progress
// subscriptions, a concurrency limit and a run history.
//
// # Sequence numbers
//
// By default one counter serves the whole pass and restarts at 1 whenever
// the code changes, so a code whose images are not contiguous reuses output
// names. [CounterPerCode] keeps a separate counter per code instead. Both
// wrap from [MaxSequence] back to 1.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a code for support reference:
//
//   - MAP000-MAP004: mapping table errors (columns, encoding, format)
//   - SRC001-SRC003: image source and destination errors
//   - FILE001-FILE002: upload errors
//   - RUN001-RUN007: run lifecycle errors (cancelled, busy, expired)
package core
