package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when an entity does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write loses a race and the
	// bounded retry budget is exhausted.
	ErrConflict = errors.New("write conflict")
	// ErrColumnNotEmpty is returned when deleting a column that still has
	// tasks.
	ErrColumnNotEmpty = errors.New("column still has tasks")
	// ErrFeedbackTaken is returned when an iteration already carries
	// different feedback.
	ErrFeedbackTaken = errors.New("iteration already has feedback")
)

// table is the subset of *aztables.Client the storage layer uses. Tests
// substitute an in-memory implementation.
type table interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	SubmitTransaction(ctx context.Context, transactionActions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// queuer is the subset of *azqueue.QueueClient used for AI-run jobs.
type queuer interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// Tables groups the table names the service persists to.
type Tables struct {
	Boards     string
	UserBoards string
	Columns    string
	Tasks      string
	Iterations string
	Comments   string
}

// Storage provides access to the underlying persistence mechanisms: Azure
// tables for entities, an Azure queue for AI-run jobs and Redis for the
// per-task append lock, the AI status cache and board event publishing.
type Storage struct {
	boardTable     table
	userBoardTable table
	columnTable    table
	taskTable      table
	iterationTable table
	commentTable   table
	aiRunQueue     queuer

	redis        *redis.Client
	statusTTL    time.Duration
	eventChannel string

	now   func() time.Time
	newID func() string
}

// Option adjusts optional Storage behavior.
type Option func(*Storage)

// WithRedis attaches a Redis client used for the append lock, the AI status
// cache and board event publishing. Without it those features degrade to
// no-ops.
func WithRedis(client *redis.Client, statusTTL time.Duration, eventChannel string) Option {
	return func(s *Storage) {
		s.redis = client
		s.statusTTL = statusTTL
		s.eventChannel = eventChannel
	}
}

// New creates a Storage instance from the given connection string.
func New(connStr string, tables Tables, aiRunQueue string, opts ...Option) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, aiRunQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	s := newWithClients(clientSet{
		boards:     svc.NewClient(tables.Boards),
		userBoards: svc.NewClient(tables.UserBoards),
		columns:    svc.NewClient(tables.Columns),
		tasks:      svc.NewClient(tables.Tasks),
		iterations: svc.NewClient(tables.Iterations),
		comments:   svc.NewClient(tables.Comments),
		queue:      q,
	})
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type clientSet struct {
	boards     table
	userBoards table
	columns    table
	tasks      table
	iterations table
	comments   table
	queue      queuer
}

func newWithClients(c clientSet) *Storage {
	return &Storage{
		boardTable:     c.boards,
		userBoardTable: c.userBoards,
		columnTable:    c.columns,
		taskTable:      c.tasks,
		iterationTable: c.iterations,
		commentTable:   c.comments,
		aiRunQueue:     c.queue,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          newEntityID,
	}
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

func isNotFound(err error) bool { return isStatus(err, http.StatusNotFound) }

func isConflict(err error) bool { return isStatus(err, http.StatusConflict) }
