// Package utils provee helpers compartidos de serialización y tiempo.
package utils

import (
	"bytes"
	"encoding/json"
)

// MarshalJSON serializa cualquier valor a JSON.
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalJSON deserializa JSON sobre el destino dado.
func UnmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// MustMarshalJSON serializa a JSON, retornando "{}" si falla.
//
// Pensado para payloads de notificación donde un fallo de serialización
// no debe interrumpir el flujo.
func MustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// PrettyPrint formatea JSON con indentación para debugging.
func PrettyPrint(data []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data) // Retornar original si falla
	}
	return buf.String()
}
