package database

// sqlc/schema.sql is a snapshot of the migrated schema and the code in
// sqlc/ is generated from it and sqlc/queries.sql. After adding a
// migration or a query, run:
//
//	go generate ./internal/database

//go:generate sh -c "cd ../.. && go run internal/database/tools/generate_schema.go"
//go:generate sh -c "cd ../.. && sqlc generate -f internal/database/sqlc/sqlc.yaml"
