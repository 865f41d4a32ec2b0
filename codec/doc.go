// Package codec converts typed objects to and from generic documents using
// an explicit schema built once per type.
//
// A Schema lists the fields of a type with accessor functions instead of
// relying on runtime type inspection:
//
//	var playerSchema = codec.MustSchema("player-defaults", "game.PlayerDefaults",
//	    codec.String("name", func(p *PlayerDefaults) string { return p.Name },
//	        func(p *PlayerDefaults, v string) { p.Name = v }).Required(),
//	    codec.Int("level", func(p *PlayerDefaults) int { return p.Level },
//	        func(p *PlayerDefaults, v int) { p.Level = v }),
//	)
//
// Encode adds the reserved keys _id, _class, _version and _updatedAt to the
// flattened fields. Decode ignores them. Values a document cannot represent
// faithfully, such as NaN or invalid UTF-8, are rejected at encode time with a
// codec error rather than dropped. Decode fails with a decode error when a
// required field is missing or a stored value has the wrong shape.
package codec
