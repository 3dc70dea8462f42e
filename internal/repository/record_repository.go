package repository

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is a free-form finance record as the client sent it, plus the
// server-assigned id and timestamps.
type Record map[string]any

func (r Record) ID() string {
	s, _ := r["id"].(string)
	return s
}

// Month is the YYYY-MM month of the record, taken from "month" or, failing
// that, the month part of "date".
func (r Record) Month() string {
	for _, key := range []string{"month", "date"} {
		if s, ok := r[key].(string); ok && len(s) >= 7 {
			return s[:7]
		}
	}
	return ""
}

func (r Record) clone() Record {
	cp := make(Record, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

type storedRecord struct {
	seq    int64
	record Record
}

// RecordRepository keeps each user's records per collection in memory.
type RecordRepository struct {
	mu   sync.RWMutex
	seq  int64
	data map[string]map[string]map[string]*storedRecord // user -> collection -> id
}

func NewRecordRepository() *RecordRepository {
	return &RecordRepository{data: map[string]map[string]map[string]*storedRecord{}}
}

func (r *RecordRepository) collection(userID, name string, create bool) map[string]*storedRecord {
	byCollection, ok := r.data[userID]
	if !ok {
		if !create {
			return nil
		}
		byCollection = map[string]map[string]*storedRecord{}
		r.data[userID] = byCollection
	}
	records, ok := byCollection[name]
	if !ok && create {
		records = map[string]*storedRecord{}
		byCollection[name] = records
	}
	return records
}

// List returns the collection in creation order. A non-empty month keeps
// only records of that month.
func (r *RecordRepository) List(userID, name, month string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := []*storedRecord{}
	for _, e := range r.collection(userID, name, false) {
		if month != "" && e.record.Month() != month {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.record.clone())
	}
	return out
}

func (r *RecordRepository) Get(userID, name, id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.collection(userID, name, false)[id]
	if !ok {
		return nil, false
	}
	return e.record.clone(), true
}

func (r *RecordRepository) Create(userID, name string, rec Record) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := rec.clone()
	stored["id"] = uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	stored["createdAt"] = now
	stored["updatedAt"] = now
	r.seq++
	r.collection(userID, name, true)[stored.ID()] = &storedRecord{seq: r.seq, record: stored}
	return stored.clone()
}

// Update replaces the record's fields, keeping id and createdAt.
func (r *RecordRepository) Update(userID, name, id string, rec Record) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.collection(userID, name, false)
	existing, ok := records[id]
	if !ok {
		return nil, false
	}
	stored := rec.clone()
	stored["id"] = id
	stored["createdAt"] = existing.record["createdAt"]
	stored["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	existing.record = stored
	return stored.clone(), true
}

// Merge lays patch over the stored record in place. id and createdAt are
// kept.
func (r *RecordRepository) Merge(userID, name, id string, patch Record) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.collection(userID, name, false)[id]
	if !ok {
		return nil, false
	}
	stored := existing.record.clone()
	for k, v := range patch {
		stored[k] = v
	}
	stored["id"] = id
	stored["createdAt"] = existing.record["createdAt"]
	stored["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	existing.record = stored
	return stored.clone(), true
}

func (r *RecordRepository) Delete(userID, name, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.collection(userID, name, false)
	if _, ok := records[id]; !ok {
		return false
	}
	delete(records, id)
	return true
}

// IsCollection reports whether name is one of the supported collections.
func IsCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

var Collections = []string{"income", "expenses", "templates", "loans", "debts", "investments"}
