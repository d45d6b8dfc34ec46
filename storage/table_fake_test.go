package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// fakeTable is an in-memory stand-in for an aztables client, faithful to
// the semantics the storage layer relies on: conditional insert, merge
// updates, partition/row-key filters and single-partition transactions.
type fakeTable struct {
	mu   sync.Mutex
	rows map[string]map[string][]byte // pk -> rk -> entity JSON

	// beforeAdd runs outside the lock before every AddEntity, letting tests
	// interleave a competing write.
	beforeAdd func()
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]map[string][]byte{}}
}

func respError(code int, message string) error {
	return &azcore.ResponseError{StatusCode: code, ErrorCode: message}
}

func entityKeys(entity []byte) (string, string, error) {
	var keys aztables.Entity
	if err := json.Unmarshal(entity, &keys); err != nil {
		return "", "", err
	}
	return keys.PartitionKey, keys.RowKey, nil
}

func (f *fakeTable) AddEntity(_ context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	if f.beforeAdd != nil {
		f.beforeAdd()
	}
	pk, rk, err := entityKeys(entity)
	if err != nil {
		return aztables.AddEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rows[pk][rk]; exists {
		return aztables.AddEntityResponse{}, respError(http.StatusConflict, "EntityAlreadyExists")
	}
	if f.rows[pk] == nil {
		f.rows[pk] = map[string][]byte{}
	}
	f.rows[pk][rk] = append([]byte(nil), entity...)
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) GetEntity(_ context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.rows[pk][rk]
	if !ok {
		return aztables.GetEntityResponse{}, respError(http.StatusNotFound, "ResourceNotFound")
	}
	return aztables.GetEntityResponse{Value: append([]byte(nil), raw...)}, nil
}

func (f *fakeTable) UpsertEntity(_ context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	pk, rk, err := entityKeys(entity)
	if err != nil {
		return aztables.UpsertEntityResponse{}, err
	}
	merge := options != nil && options.UpdateMode == aztables.UpdateModeMerge
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeLocked(pk, rk, entity, merge)
	return aztables.UpsertEntityResponse{}, nil
}

func (f *fakeTable) UpdateEntity(_ context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	pk, rk, err := entityKeys(entity)
	if err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	merge := options == nil || options.UpdateMode == aztables.UpdateModeMerge
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[pk][rk]; !ok {
		return aztables.UpdateEntityResponse{}, respError(http.StatusNotFound, "ResourceNotFound")
	}
	f.storeLocked(pk, rk, entity, merge)
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(_ context.Context, pk, rk string, _ *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[pk][rk]; !ok {
		return aztables.DeleteEntityResponse{}, respError(http.StatusNotFound, "ResourceNotFound")
	}
	delete(f.rows[pk], rk)
	return aztables.DeleteEntityResponse{}, nil
}

func (f *fakeTable) SubmitTransaction(_ context.Context, actions []aztables.TransactionAction, _ *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range actions {
		pk, rk, err := entityKeys(a.Entity)
		if err != nil {
			return aztables.TransactionResponse{}, err
		}
		switch a.ActionType {
		case aztables.TransactionTypeUpdateMerge, aztables.TransactionTypeInsertMerge:
			if _, ok := f.rows[pk][rk]; !ok && a.ActionType == aztables.TransactionTypeUpdateMerge {
				return aztables.TransactionResponse{}, respError(http.StatusNotFound, "ResourceNotFound")
			}
			f.storeLocked(pk, rk, a.Entity, true)
		case aztables.TransactionTypeDelete:
			delete(f.rows[pk], rk)
		default:
			f.storeLocked(pk, rk, a.Entity, false)
		}
	}
	return aztables.TransactionResponse{}, nil
}

func (f *fakeTable) storeLocked(pk, rk string, entity []byte, merge bool) {
	if f.rows[pk] == nil {
		f.rows[pk] = map[string][]byte{}
	}
	if merge {
		if prev, ok := f.rows[pk][rk]; ok {
			var base, overlay map[string]any
			if json.Unmarshal(prev, &base) == nil && json.Unmarshal(entity, &overlay) == nil {
				for k, v := range overlay {
					base[k] = v
				}
				merged, err := json.Marshal(base)
				if err == nil {
					f.rows[pk][rk] = merged
					return
				}
			}
		}
	}
	f.rows[pk][rk] = append([]byte(nil), entity...)
}

func (f *fakeTable) NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	var filter string
	if options != nil && options.Filter != nil {
		filter = *options.Filter
	}
	page := aztables.ListEntitiesResponse{Entities: f.filtered(filter)}
	fetched := false
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(context.Context, *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			if fetched {
				return aztables.ListEntitiesResponse{}, fmt.Errorf("pager exhausted")
			}
			fetched = true
			return page, nil
		},
	})
}

// filtered supports the two filter shapes the storage layer issues:
// "PartitionKey eq '<v>'" and "RowKey eq '<v>'".
func (f *fakeTable) filtered(filter string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	match := func(pk, rk string) bool { return true }
	if v, ok := filterValue(filter, "PartitionKey"); ok {
		match = func(pk, rk string) bool { return pk == v }
	} else if v, ok := filterValue(filter, "RowKey"); ok {
		match = func(pk, rk string) bool { return rk == v }
	}

	type row struct{ pk, rk string }
	var keys []row
	for pk, byRK := range f.rows {
		for rk := range byRK {
			if match(pk, rk) {
				keys = append(keys, row{pk, rk})
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].pk != keys[j].pk {
			return keys[i].pk < keys[j].pk
		}
		return keys[i].rk < keys[j].rk
	})
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, append([]byte(nil), f.rows[k.pk][k.rk]...))
	}
	return out
}

func filterValue(filter, field string) (string, bool) {
	prefix := field + " eq '"
	if !strings.HasPrefix(filter, prefix) || !strings.HasSuffix(filter, "'") {
		return "", false
	}
	v := strings.TrimSuffix(strings.TrimPrefix(filter, prefix), "'")
	return strings.ReplaceAll(v, "''", "'"), true
}

// fakeQueue is an in-memory azqueue stand-in.
type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	nextID   int
	enqueued int
	failNext error
}

func (q *fakeQueue) EnqueueMessage(_ context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNext != nil {
		err := q.failNext
		q.failNext = nil
		return azqueue.EnqueueMessagesResponse{}, err
	}
	q.messages = append(q.messages, content)
	q.enqueued++
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (q *fakeQueue) DequeueMessage(_ context.Context, _ *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return azqueue.DequeueMessagesResponse{}, nil
	}
	text := q.messages[0]
	q.messages = q.messages[1:]
	q.nextID++
	id := fmt.Sprintf("msg-%d", q.nextID)
	receipt := "pop-" + id
	return azqueue.DequeueMessagesResponse{
		Messages: []*azqueue.DequeuedMessage{{MessageID: &id, PopReceipt: &receipt, MessageText: &text}},
	}, nil
}

func (q *fakeQueue) DeleteMessage(_ context.Context, _ string, _ string, _ *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error) {
	return azqueue.DeleteMessageResponse{}, nil
}

// newTestStorage builds a Storage over in-memory fakes with deterministic
// IDs and time.
func newTestStorage() (*Storage, *fakeQueue, map[string]*fakeTable) {
	tables := map[string]*fakeTable{
		"boards":     newFakeTable(),
		"userboards": newFakeTable(),
		"columns":    newFakeTable(),
		"tasks":      newFakeTable(),
		"iterations": newFakeTable(),
		"comments":   newFakeTable(),
	}
	q := &fakeQueue{}
	s := newWithClients(clientSet{
		boards:     tables["boards"],
		userBoards: tables["userboards"],
		columns:    tables["columns"],
		tasks:      tables["tasks"],
		iterations: tables["iterations"],
		comments:   tables["comments"],
		queue:      q,
	})
	var n int
	s.newID = func() string {
		n++
		return fmt.Sprintf("id-%04d", n)
	}
	return s, q, tables
}
