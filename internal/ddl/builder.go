// Package ddl builds DuckDB statements for source schemas, file views,
// secrets, and session settings.
package ddl

import (
	"fmt"
	"strings"
)

// CreateSchemaIfNotExists returns: CREATE SCHEMA IF NOT EXISTS "<name>".
func CreateSchemaIfNotExists(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", fmt.Errorf("invalid schema name: %w", err)
	}
	return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", QuoteIdentifier(name)), nil
}

// CreateOrReplaceFileView returns a view definition over one file:
//
//	CREATE OR REPLACE VIEW "schema"."view" AS (SELECT * FROM read_parquet('<location>'))
func CreateOrReplaceFileView(schema, view, location string) (string, error) {
	if err := ValidateName(schema); err != nil {
		return "", fmt.Errorf("invalid schema name: %w", err)
	}
	if err := ValidateName(view); err != nil {
		return "", fmt.Errorf("invalid view name: %w", err)
	}
	if location == "" {
		return "", fmt.Errorf("file location is required")
	}
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s.%s AS (SELECT * FROM read_parquet(%s));",
		QuoteIdentifier(schema),
		QuoteIdentifier(view),
		QuoteLiteral(location),
	), nil
}

// DropView returns: DROP VIEW IF EXISTS "schema"."view".
func DropView(schema, view string) (string, error) {
	if err := ValidateName(schema); err != nil {
		return "", fmt.Errorf("invalid schema name: %w", err)
	}
	if err := ValidateName(view); err != nil {
		return "", fmt.Errorf("invalid view name: %w", err)
	}
	return fmt.Sprintf("DROP VIEW IF EXISTS %s.%s", QuoteIdentifier(schema), QuoteIdentifier(view)), nil
}

// SetSearchPath returns a statement limiting unqualified name resolution to
// the given schemas, in order.
func SetSearchPath(schemas []string) (string, error) {
	if len(schemas) == 0 {
		return "", fmt.Errorf("at least one schema is required")
	}
	for _, s := range schemas {
		if err := ValidateName(s); err != nil {
			return "", fmt.Errorf("invalid schema name: %w", err)
		}
		if strings.Contains(s, ",") {
			return "", fmt.Errorf("schema name %q must not contain a comma", s)
		}
	}
	return fmt.Sprintf("SET search_path = %s", QuoteLiteral(strings.Join(schemas, ","))), nil
}

// LoadExtension returns: INSTALL <name>; LOAD <name>;
func LoadExtension(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid extension name: %w", err)
	}
	return fmt.Sprintf("INSTALL %s; LOAD %s;", name, name), nil
}

// CreateS3Secret returns a DuckDB statement creating an S3 secret used to
// read s3:// source locations.
func CreateS3Secret(name, keyID, secret, endpoint, region, urlStyle string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	if urlStyle == "" {
		urlStyle = "path"
	}
	return fmt.Sprintf(`CREATE OR REPLACE SECRET %s (
	TYPE S3,
	KEY_ID %s,
	SECRET %s,
	ENDPOINT %s,
	REGION %s,
	URL_STYLE %s
)`,
		QuoteIdentifier(name),
		QuoteLiteral(keyID),
		QuoteLiteral(secret),
		QuoteLiteral(endpoint),
		QuoteLiteral(region),
		QuoteLiteral(urlStyle),
	), nil
}
