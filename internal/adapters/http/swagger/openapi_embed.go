package swagger

import _ "embed"

// OpenAPI is the VitalRisk OpenAPI 3 document served at /openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPI []byte
