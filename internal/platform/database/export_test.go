package database

var ToMigrateURL = toMigrateURL
