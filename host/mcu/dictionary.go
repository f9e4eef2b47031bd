package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Dictionary is the parsed data dictionary served by the firmware.
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	commandsByName map[string]*MessageFormat
	responsesByID  map[int]*MessageFormat
}

// Message IDs fixed before any dictionary is known.
const (
	IdentifyResponseID = 0
	IdentifyID         = 1
)

// bootstrapDictionary knows just enough to fetch the real one.
func bootstrapDictionary() *Dictionary {
	d := &Dictionary{
		Commands:  map[string]int{"identify offset=%u count=%c": IdentifyID},
		Responses: map[string]int{"identify_response offset=%u data=%*s": IdentifyResponseID},
	}
	if err := d.index(); err != nil {
		panic(err)
	}
	return d
}

// ParseDictionary decodes a dictionary, inflating it first when it carries
// a zlib header.
func ParseDictionary(data []byte) (*Dictionary, error) {
	raw, err := inflate(data)
	if err != nil {
		return nil, err
	}
	d := &Dictionary{}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dictionary: %w", err)
	}
	if err := d.index(); err != nil {
		return nil, err
	}
	return d, nil
}

func inflate(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x78 {
		return data, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed dictionary: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate dictionary: %w", err)
	}
	return out, nil
}

func (d *Dictionary) index() error {
	d.commandsByName = make(map[string]*MessageFormat, len(d.Commands))
	for sig, id := range d.Commands {
		f, err := ParseFormat(id, sig)
		if err != nil {
			return fmt.Errorf("command %q: %w", sig, err)
		}
		d.commandsByName[f.Name] = f
	}
	d.responsesByID = make(map[int]*MessageFormat, len(d.Responses))
	for sig, id := range d.Responses {
		f, err := ParseFormat(id, sig)
		if err != nil {
			return fmt.Errorf("response %q: %w", sig, err)
		}
		d.responsesByID[id] = f
	}
	return nil
}

// Command returns the format of a command by name.
func (d *Dictionary) Command(name string) (*MessageFormat, bool) {
	f, ok := d.commandsByName[name]
	return f, ok
}

// Response returns the format of a response by ID.
func (d *Dictionary) Response(id int) (*MessageFormat, bool) {
	f, ok := d.responsesByID[id]
	return f, ok
}

// ResponseByName returns the format of a response by name.
func (d *Dictionary) ResponseByName(name string) (*MessageFormat, bool) {
	for _, f := range d.responsesByID {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// ConfigUint returns a numeric config constant.
func (d *Dictionary) ConfigUint(name string) (uint32, bool) {
	s, ok := d.Config[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// EnumName maps an enumeration value back to its name.
func (d *Dictionary) EnumName(enum string, value int) (string, bool) {
	for name, v := range d.Enumerations[enum] {
		if v == value {
			return name, true
		}
	}
	return "", false
}

// EnumValue maps an enumeration name to its wire value.
func (d *Dictionary) EnumValue(enum, name string) (int, bool) {
	v, ok := d.Enumerations[enum][name]
	return v, ok
}

// CommandSignatures returns the command signatures in ID order.
func (d *Dictionary) CommandSignatures() []string {
	return signaturesByID(d.Commands)
}

// ResponseSignatures returns the response signatures in ID order.
func (d *Dictionary) ResponseSignatures() []string {
	return signaturesByID(d.Responses)
}

func signaturesByID(entries map[string]int) []string {
	sigs := make([]string, 0, len(entries))
	for sig := range entries {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool { return entries[sigs[i]] < entries[sigs[j]] })
	return sigs
}
