// Package direct resolves one-to-one rooms through the m.direct account
// data of the owning identity. Mappings are written last-writer-wins so
// racing room creations converge on a single winning room.
package direct
