/*
Package codec is the canonical serialization for every persisted
payload: stage arguments, slot values and parameter records.

# Wire form

Values encode to JSON with type tags for what JSON cannot carry:
datetimes ({"__cascade_type__":"datetime", ...}, RFC3339Nano UTC) and
byte strings (base64). Map keys coerce to strings; integral numbers
decode as int64 and fractional ones as float64, so values survive a
round trip with their types intact. Values with no canonical form
(structs, channels, non-finite floats) fail at encode time, surfacing
at the producing stage.

# Payloads

Payload stores an encoded value either inline on the record or as a
blob-store handle, exactly one of the two. EncodePayload offloads
anything past the inline threshold (default 1 MiB, leaving headroom
under store entity-size caps); DecodePayload reads back through the
blob store transparently.

# See Also

  - pkg/blob for the offload target
  - pkg/types for where payloads live on records
*/
package codec
