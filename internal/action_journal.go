package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xKoRx/mirror/utils"
	bolt "go.etcd.io/bbolt"
)

const actionBucketName = "queued_actions"

// ActionJournal persiste las acciones encoladas en un bbolt local.
//
// Sobrevive reinicios del proceso: al arrancar, Restore devuelve las acciones
// pendientes en orden de encolado para rehidratar el ActionQueue.
type ActionJournal struct {
	db *bolt.DB
}

// OpenActionJournal abre (o crea) el journal en la ruta dada.
func OpenActionJournal(path string) (*ActionJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal path: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(actionBucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &ActionJournal{db: db}, nil
}

// Close cierra el bbolt subyacente.
func (j *ActionJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Put persiste una acción (keyed por ID).
func (j *ActionJournal) Put(action *QueuedAction) error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(actionBucketName))
		data, err := utils.MarshalJSON(action)
		if err != nil {
			return err
		}
		return b.Put([]byte(action.ID), data)
	})
}

// Delete elimina una acción del journal.
func (j *ActionJournal) Delete(actionID string) error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(actionBucketName)).Delete([]byte(actionID))
	})
}

// DeleteAll elimina un conjunto de acciones en una sola transacción.
func (j *ActionJournal) DeleteAll(actionIDs []string) error {
	if j == nil || j.db == nil || len(actionIDs) == 0 {
		return nil
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(actionBucketName))
		for _, id := range actionIDs {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Restore devuelve todas las acciones persistidas, ordenadas por Seq.
func (j *ActionJournal) Restore() ([]*QueuedAction, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	var actions []*QueuedAction
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(actionBucketName)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) == 0 {
				continue
			}
			var a QueuedAction
			if err := utils.UnmarshalJSON(v, &a); err != nil {
				continue
			}
			actions = append(actions, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(actions, func(i, k int) bool {
		return actions[i].Seq < actions[k].Seq
	})
	return actions, nil
}
