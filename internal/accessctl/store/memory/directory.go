package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/faredeal/accessctl/internal/accessctl/types"
)

// Directory is a fixed, ordered entity list held in memory.
type Directory struct {
	mu       sync.RWMutex
	entities []types.Entity
	byID     map[types.EntityID]int
}

func NewDirectory(entities []types.Entity) *Directory {
	d := &Directory{}
	d.Set(entities)
	return d
}

// Set replaces the directory contents. Blank ids are skipped; a repeated id
// keeps its first position and takes the later record.
func (d *Directory) Set(entities []types.Entity) {
	list := make([]types.Entity, 0, len(entities))
	byID := make(map[types.EntityID]int, len(entities))
	for _, e := range entities {
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			continue
		}
		if i, ok := byID[e.ID]; ok {
			list[i] = e
			continue
		}
		byID[e.ID] = len(list)
		list = append(list, e)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entities = list
	d.byID = byID
}

func (d *Directory) List(_ context.Context) ([]types.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.Entity, len(d.entities))
	copy(out, d.entities)
	return out, nil
}

func (d *Directory) Get(_ context.Context, id types.EntityID) (types.Entity, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.byID[id]
	if !ok {
		return types.Entity{}, false, nil
	}
	return d.entities[i], true, nil
}

// DemoEntities is the sample staff roster used in dev when no directory
// file or database table is configured.
func DemoEntities() []types.Entity {
	at := func(s string) *time.Time {
		t, _ := time.Parse(time.RFC3339, s)
		return &t
	}
	return []types.Entity{
		{ID: "emp001", Name: "John Doe", Email: "john.doe@faredeal.com", Department: "Sales", Status: "active", LastLogin: at("2024-10-07T10:30:00Z")},
		{ID: "emp002", Name: "Jane Smith", Email: "jane.smith@faredeal.com", Department: "Inventory", Status: "active", LastLogin: at("2024-10-07T09:15:00Z")},
		{ID: "emp003", Name: "Mike Johnson", Email: "mike.johnson@faredeal.com", Department: "Customer Service", Status: "disabled", LastLogin: at("2024-10-06T16:45:00Z")},
		{ID: "emp004", Name: "Sarah Wilson", Email: "sarah.wilson@faredeal.com", Department: "Sales", Status: "active", LastLogin: at("2024-10-07T08:20:00Z")},
		{ID: "emp005", Name: "David Brown", Email: "david.brown@faredeal.com", Department: "Warehouse", Status: "pending"},
		{ID: "emp006", Name: "Lisa Garcia", Email: "lisa.garcia@faredeal.com", Department: "Inventory", Status: "active", LastLogin: at("2024-10-07T11:10:00Z")},
		{ID: "emp007", Name: "Robert Lee", Email: "robert.lee@faredeal.com", Department: "Security", Status: "active", LastLogin: at("2024-10-07T07:30:00Z")},
		{ID: "emp008", Name: "Emily Davis", Email: "emily.davis@faredeal.com", Department: "HR", Status: "disabled", LastLogin: at("2024-10-05T14:20:00Z")},
	}
}
