package models

import "github.com/billbookhq/billbook_backend/config"

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Customer{}, &Party{},
		&GstRate{}, &Product{},
		&Invoice{}, &InvoiceItem{},
		&Payment{},
	)
	if err != nil {
		panic(err)
	}
}
