package core

import (
	"bytes"
	"sort"
	"sync"

	"anacomp/tinycompress"
)

// Constant represents a firmware constant exposed to the host
type Constant struct {
	Name  string
	Value interface{} // string or unsigned/signed integer
}

// Enumeration maps value names to their wire index. Empty names are skipped.
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary is the JSON data dictionary the host retrieves with identify.
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]*Constant
	enumerations  map[string]*Enumeration
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cachedDict    []byte // compressed, set by BuildDictionary
}

var globalDictionary = NewDictionary(globalRegistry)

func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]*Constant),
		enumerations:  make(map[string]*Enumeration),
		commandReg:    cmdReg,
		version:       "anacomp-0.1.0",
		buildVersions: "go-tinygo",
	}
}

// RegisterConstant registers a constant in the global dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration registers an enumeration in the global dictionary
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{Name: name, Value: value}
	d.cachedDict = nil
}

func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	valuesCopy := make([]string, len(values))
	copy(valuesCopy, values)
	d.enumerations[name] = &Enumeration{Name: name, Values: valuesCopy}
	d.cachedDict = nil
}

func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cachedDict = nil
}

func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.cachedDict = nil
}

// BuildDictionary renders and compresses the dictionary. Call once after all
// commands are registered; later additions invalidate the cache.
func (d *Dictionary) BuildDictionary() {
	// Registry lock is taken before ours, never while holding it
	entries := d.commandReg.Entries()

	d.mu.Lock()
	defer d.mu.Unlock()

	jsonData := d.buildJSONLocked(entries)

	var buf bytes.Buffer
	w := tinycompress.NewWriter(&buf)
	if _, err := w.Write(jsonData); err != nil {
		DebugPrintln("[DICT] compression failed: " + err.Error())
		return
	}
	if err := w.Close(); err != nil {
		DebugPrintln("[DICT] compression failed: " + err.Error())
		return
	}
	d.cachedDict = buf.Bytes()
	DebugPrintln("[DICT] " + itoa(len(jsonData)) + " bytes, " + itoa(len(d.cachedDict)) + " compressed")
}

// Generate returns the compressed dictionary, building it on first use.
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cachedDict
	d.mu.RUnlock()
	if cached == nil {
		d.BuildDictionary()
		d.mu.RLock()
		cached = d.cachedDict
		d.mu.RUnlock()
	}
	return cached
}

// JSON returns the uncompressed dictionary.
func (d *Dictionary) JSON() []byte {
	entries := d.commandReg.Entries()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buildJSONLocked(entries)
}

// buildJSONLocked renders the dictionary (caller holds d.mu).
func (d *Dictionary) buildJSONLocked(entries []*Command) []byte {
	result := make([]byte, 0, 1024)

	result = append(result, `{"version":"`...)
	result = append(result, d.version...)
	result = append(result, `","build_versions":"`...)
	result = append(result, d.buildVersions...)
	result = append(result, `","config":{`...)

	constNames := make([]string, 0, len(d.constants))
	for name := range d.constants {
		constNames = append(constNames, name)
	}
	sort.Strings(constNames)
	for i, name := range constNames {
		if i > 0 {
			result = append(result, ',')
		}
		result = appendQuoted(result, name)
		result = append(result, ':')
		result = appendQuoted(result, valueToString(d.constants[name].Value))
	}

	result = append(result, `},"commands":{`...)
	result = appendEntries(result, entries, false)
	result = append(result, `},"responses":{`...)
	result = appendEntries(result, entries, true)
	result = append(result, '}')

	if len(d.enumerations) > 0 {
		result = append(result, `,"enumerations":{`...)

		enumNames := make([]string, 0, len(d.enumerations))
		for name := range d.enumerations {
			enumNames = append(enumNames, name)
		}
		sort.Strings(enumNames)

		for i, name := range enumNames {
			if i > 0 {
				result = append(result, ',')
			}
			result = appendQuoted(result, name)
			result = append(result, `:{`...)
			first := true
			for idx, value := range d.enumerations[name].Values {
				if value == "" {
					continue
				}
				if !first {
					result = append(result, ',')
				}
				result = appendQuoted(result, value)
				result = append(result, ':')
				result = append(result, itoa(idx)...)
				first = false
			}
			result = append(result, '}')
		}
		result = append(result, '}')
	}

	return append(result, '}')
}

// appendEntries writes "signature":id pairs for commands or responses.
func appendEntries(dst []byte, entries []*Command, responses bool) []byte {
	first := true
	for _, cmd := range entries {
		if cmd.IsResponse() != responses {
			continue
		}
		if !first {
			dst = append(dst, ',')
		}
		dst = appendQuoted(dst, cmd.Signature())
		dst = append(dst, ':')
		dst = append(dst, utoa(uint32(cmd.ID))...)
		first = false
	}
	return dst
}

// appendQuoted writes s as a JSON string. Names and formats are ASCII, so
// only quotes and backslashes need escaping.
func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			dst = append(dst, '\\')
		}
		dst = append(dst, c)
	}
	return append(dst, '"')
}

func valueToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case uint8:
		return utoa(uint32(val))
	case uint16:
		return utoa(uint32(val))
	case uint32:
		return utoa(val)
	case int:
		return itoa(val)
	case int32:
		if val < 0 {
			return "-" + utoa(uint32(-val))
		}
		return utoa(uint32(val))
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

// GetChunk returns count bytes of the compressed dictionary from offset.
// Past the end it returns an empty slice, which ends the host's retrieval.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// GetGlobalDictionary returns the global dictionary instance
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
