package db

import (
	"fmt"
	"regexp"
)

type contextKey string

const txKey contextKey = "db_tx"

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidSchema reports whether name is safe to interpolate into search_path.
func ValidSchema(name string) bool {
	return schemaPattern.MatchString(name)
}

// searchPath is the search_path every pooled connection starts with. An
// empty schema means public only.
func searchPath(schema string) (string, error) {
	if schema == "" || schema == "public" {
		return "public", nil
	}
	if !ValidSchema(schema) {
		return "", fmt.Errorf("invalid database schema %q", schema)
	}
	return schema + ", public", nil
}
