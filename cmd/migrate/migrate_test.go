package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationID(t *testing.T) {
	assert.Equal(t, "0001_init", migrationID("0001_init.up.sql"))
	assert.Equal(t, "20260101120000_add_audit", migrationID("20260101120000_add_audit.up.sql"))
	assert.Equal(t, "no_extension", migrationID("no_extension"))
}
