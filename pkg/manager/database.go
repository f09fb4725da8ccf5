package manager

import (
	"github.com/roffe/canman/pkg/dbc"
)

// LoadDBC is the default Loader.
func LoadDBC(path string) (Database, error) {
	db, err := dbc.Load(path)
	if err != nil {
		return nil, err
	}
	return FromDBC(db), nil
}

// FromDBC adapts a compiled DBC database to the Database interface.
func FromDBC(db *dbc.Database) Database {
	return dbcDatabase{db}
}

type dbcDatabase struct {
	*dbc.Database
}

func (d dbcDatabase) MessageByName(name string) (MessageDef, error) {
	msg, err := d.Database.MessageByName(name)
	if err != nil {
		return nil, err
	}
	return msg, nil
}
