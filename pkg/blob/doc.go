/*
Package blob defines the blob-store contract the engine needs for
payloads too large to store inline on a record, plus a filesystem
implementation.

The engine only requires Write, Read and Delete with opaque string
handles. FileStore keeps each blob as one UUID-named file under a
directory; production deployments substitute an object store behind
the same interface.

# See Also

  - pkg/codec for the inline/offload threshold logic
*/
package blob
