package cliutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupDatabaseSqlite(t *testing.T) {
	assert := assert.New(t)

	dbPath := filepath.Join(t.TempDir(), "nested", "test.sqlite")
	db, err := SetupDatabase("sqlite://"+dbPath, 40)
	assert.NoError(err)

	sqldb, err := db.DB()
	assert.NoError(err)
	// sqlite is pinned to a single connection regardless of the requested max
	assert.Equal(1, sqldb.Stats().MaxOpenConnections)
	assert.FileExists(dbPath)
	assert.NoError(sqldb.Close())
}

func TestSetupDatabaseBadURL(t *testing.T) {
	assert := assert.New(t)

	_, err := SetupDatabase("mysql://localhost/stratos", 1)
	assert.Error(err)
	_, err = SetupDatabase("", 1)
	assert.Error(err)
}

func TestSetupSlogOptions(t *testing.T) {
	assert := assert.New(t)

	_, err := SetupSlog(LogOptions{LogLevel: "debug", LogFormat: "json"})
	assert.NoError(err)
	_, err = SetupSlog(LogOptions{LogLevel: "chatty"})
	assert.Error(err)
	_, err = SetupSlog(LogOptions{LogFormat: "xml"})
	assert.Error(err)
}
