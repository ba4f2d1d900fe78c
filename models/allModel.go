package models

import (
	"log"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
)

// MigrateTable runs AutoMigrate for every persisted model. Call after the
// DB connection is established; SKIP_MIGRATIONS=true bypasses it so DDL
// can run as a separate job.
func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		log.Println("MigrateTable skipped: database not connected")
		return
	}
	err := db.AutoMigrate(
		&User{},
		&Order{},
		&OrderLineItem{},
		&PhotoIDLedger{},
		&PhotoIDAccessLog{},
	)
	if err != nil {
		log.Printf("AutoMigrate failed: %v", err)
	}
}
