// Package xid issues row identifiers. IDs are UUIDv7 so they sort by creation
// time across replicas.
package xid

import "github.com/google/uuid"

func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
