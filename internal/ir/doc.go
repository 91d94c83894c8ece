// Package ir provides the value model shared by every stitch package.
//
// Records fetched from a datastore, literals inside query criteria and the
// nested record graphs handed back to callers are all expressed with the
// sealed IRValue family defined here. ir imports nothing internal, so every
// other package can depend on it without cycles.
//
// Key design constraints:
//   - NO float types anywhere - numbers are int64 (IRInt)
//   - Records are IRObject values; populated associations nest as IRObject
//     (to-one) or IRArray (to-many)
//   - Key() gives every value a deterministic, hashable identity used for
//     primary-key dedup and foreign-key set membership
//   - MarshalCanonical is the only serialization used for golden output
package ir
