// One-off operational script: create (if needed) and migrate the feed engine
// database named by DB_NAME. Run it once per environment before starting the
// server.
package main

import (
	"os"

	. "github.com/studyloop/feedengine/utils"
	"github.com/studyloop/feedengine/utils/dotenv"
	. "github.com/studyloop/feedengine/utils/log"
)

func main() {
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}

	dbName := os.Getenv("DB_NAME")
	exists, err := IsDatabaseExist(dbName)
	if err != nil {
		Log.Fatal("fail to check database existence: ", err)
	}
	if !exists {
		defaultDB, err := GetDefaultDBConnection()
		if err != nil {
			Log.Fatal("fail to connect to default database: ", err)
		}
		if err := defaultDB.Exec("CREATE DATABASE " + dbName).Error; err != nil {
			Log.Fatal("fail to create database ", dbName, ": ", err)
		}
		Log.Info("created database ", dbName)
	}

	db, err := GetDBConnection()
	if err != nil {
		Log.Fatal("fail to connect to database ", dbName, ": ", err)
	}
	DatabaseSetupAndMigration(db)
	Log.Info("database ", dbName, " migrated")
}
