package extras

import "encoding/json"

// Structured is an extras value stored as a JSON document in a string.
// Value is nil when Raw could not be decoded; consumers then see Raw.
type Structured struct {
	Raw   string
	Value interface{}
}

// Decoded reports whether Raw was a valid JSON document.
func (s *Structured) Decoded() bool {
	return s != nil && s.Value != nil
}

// Public returns the decoded value, or the raw string when decoding failed.
func (s *Structured) Public() interface{} {
	if s.Decoded() {
		return s.Value
	}
	return s.Raw
}

func parseStructured(raw string) *Structured {
	s := &Structured{Raw: raw}
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		s.Value = v
	}
	return s
}

// Extras is the typed view of a dataset's extras: free-form string fields
// plus the optional structured mapping and processing documents.
type Extras struct {
	Fields     map[string]string
	Mapping    *Structured
	Processing *Structured
}

// DecodeExtras builds the typed view of the pairs. Mapping and processing
// are decoded on a best-effort basis.
func DecodeExtras(pairs []Pair) Extras {
	e := Extras{Fields: Decode(pairs)}
	if raw, ok := e.Fields[MappingKey]; ok {
		delete(e.Fields, MappingKey)
		e.Mapping = parseStructured(raw)
	}
	if raw, ok := e.Fields[ProcessingKey]; ok {
		delete(e.Fields, ProcessingKey)
		e.Processing = parseStructured(raw)
	}
	return e
}

// Map returns the public mapping of the extras.
func (e Extras) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(e.Fields)+2)
	for k, v := range e.Fields {
		m[k] = v
	}
	if e.Mapping != nil {
		m[MappingKey] = e.Mapping.Public()
	}
	if e.Processing != nil {
		m[ProcessingKey] = e.Processing.Public()
	}
	return m
}

// ProcessingMap returns the processing document when it decoded to an
// object.
func (e Extras) ProcessingMap() map[string]interface{} {
	if !e.Processing.Decoded() {
		return nil
	}
	m, _ := e.Processing.Value.(map[string]interface{})
	return m
}

func (e Extras) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Map())
}
