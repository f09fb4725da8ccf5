// Package dbc loads CAN signal databases in the Vector DBC format and packs
// and unpacks named signal values into classical CAN payloads.
//
// Parsing is delegated to go.einride.tech/can/pkg/dbc; this package compiles
// the parsed definitions into lookup tables and implements the signal codec.
package dbc

import (
	"fmt"
	"os"
	"sort"

	"go.einride.tech/can/pkg/dbc"
)

// independentSignalsID is the pseudo message Vector tools use to park
// signals that belong to no frame.
const independentSignalsID = 0xC0000000

// Fields maps signal names to values. Decoded values are float64, int64,
// bool or string (the label of a value description); a 64-bit unsigned
// signal above MaxInt64 decodes to uint64.
type Fields map[string]any

type Database struct {
	source   string
	version  string
	messages []*Message
	byName   map[string]*Message
	byID     map[uint32]*Message
}

// Load reads and compiles the DBC file at path. A missing or unreadable file
// returns the *fs.PathError from the os package; a malformed file returns a
// *ParseError.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse compiles DBC source held in memory. name is only used in errors.
func Parse(name string, data []byte) (*Database, error) {
	p := dbc.NewParser(name, data)
	if err := p.Parse(); err != nil {
		return nil, &ParseError{File: name, Err: err}
	}

	db := &Database{
		source: name,
		byName: make(map[string]*Message),
		byID:   make(map[uint32]*Message),
	}
	var values []*dbc.ValueDescriptionsDef
	for _, def := range p.Defs() {
		switch def := def.(type) {
		case *dbc.VersionDef:
			db.version = def.Version
		case *dbc.MessageDef:
			if uint32(def.MessageID) == independentSignalsID {
				continue
			}
			msg, err := compileMessage(def)
			if err != nil {
				return nil, &ParseError{File: name, Err: err}
			}
			if err := db.add(msg); err != nil {
				return nil, &ParseError{File: name, Err: err}
			}
		case *dbc.ValueDescriptionsDef:
			values = append(values, def)
		}
	}
	for _, def := range values {
		if def.SignalName == "" {
			continue
		}
		msg, ok := db.byID[def.MessageID.ToCAN()]
		if !ok {
			continue
		}
		sig := msg.signal(string(def.SignalName))
		if sig == nil {
			continue
		}
		for _, vd := range def.ValueDescriptions {
			sig.addValue(int64(vd.Value), vd.Description)
		}
	}
	sort.Slice(db.messages, func(i, j int) bool { return db.messages[i].ID < db.messages[j].ID })
	return db, nil
}

func (db *Database) add(msg *Message) error {
	if _, found := db.byName[msg.Name]; found {
		return fmt.Errorf("duplicate message name %q", msg.Name)
	}
	if prev, found := db.byID[msg.ID]; found {
		return fmt.Errorf("message %q reuses frame id 0x%X of %q", msg.Name, msg.ID, prev.Name)
	}
	db.byName[msg.Name] = msg
	db.byID[msg.ID] = msg
	db.messages = append(db.messages, msg)
	return nil
}

// Source is the file name the database was compiled from.
func (db *Database) Source() string {
	return db.source
}

func (db *Database) Version() string {
	return db.version
}

// Messages returns every message ordered by frame id.
func (db *Database) Messages() []*Message {
	out := make([]*Message, len(db.messages))
	copy(out, db.messages)
	return out
}

func (db *Database) MessageByName(name string) (*Message, error) {
	if msg, ok := db.byName[name]; ok {
		return msg, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownMessage, name)
}

func (db *Database) MessageByID(id uint32) (*Message, error) {
	if msg, ok := db.byID[id]; ok {
		return msg, nil
	}
	return nil, fmt.Errorf("%w 0x%X", ErrUnknownFrame, id)
}

// Decode looks up the message for frame id and unpacks data.
func (db *Database) Decode(id uint32, data []byte) (Fields, error) {
	msg, err := db.MessageByID(id)
	if err != nil {
		return nil, err
	}
	return msg.Decode(data)
}
