package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	pfirestore "github.com/itamarnascimento/shop-dash-catalogue/internal/platform/firestore"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

const (
	cartsCollection    = "carts"
	cartItemsSubfolder = "items"
)

type cartItemDocument struct {
	ProductID string    `firestore:"productId"`
	Variant   string    `firestore:"variant"`
	Name      string    `firestore:"name"`
	Image     string    `firestore:"image,omitempty"`
	UnitPrice int64     `firestore:"unitPrice"`
	Quantity  int       `firestore:"quantity"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CartRepository stores cart lines under carts/{uid}/items/{lineKey}.
type CartRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider, now: time.Now}, nil
}

func (r *CartRepository) items(userID string) (*pfirestore.Collection[cartItemDocument], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("cart repository: user id is required")
	}
	return pfirestore.NewCollection[cartItemDocument](r.provider, cartsCollection+"/"+uid+"/"+cartItemsSubfolder), nil
}

// ListLines returns the user's lines in the order they were first added.
func (r *CartRepository) ListLines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	coll, err := r.items(userID)
	if err != nil {
		return nil, err
	}
	docs, err := coll.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Asc)
	}, nil)
	if err != nil {
		return nil, err
	}
	lines := make([]domain.CartLine, 0, len(docs))
	for _, doc := range docs {
		lines = append(lines, domain.CartLine{
			ProductID: doc.ProductID,
			Variant:   doc.Variant,
			Name:      doc.Name,
			Image:     doc.Image,
			UnitPrice: doc.UnitPrice,
			Quantity:  doc.Quantity,
		})
	}
	return lines, nil
}

// UpsertLine creates the line or overwrites its quantity and snapshot, keeping createdAt.
func (r *CartRepository) UpsertLine(ctx context.Context, userID string, line domain.CartLine) error {
	coll, err := r.items(userID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(line.ProductID) == "" {
		return errors.New("cart repository: product id is required")
	}
	ref, err := coll.Doc(ctx, lineDocID(line.Key()))
	if err != nil {
		return err
	}

	now := r.now().UTC()
	doc := cartItemDocument{
		ProductID: line.ProductID,
		Variant:   line.Variant,
		Name:      line.Name,
		Image:     line.Image,
		UnitPrice: line.UnitPrice,
		Quantity:  line.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = ref.Create(ctx, doc)
	if status.Code(err) != codes.AlreadyExists {
		return pfirestore.WrapError("carts.items.create", err)
	}
	_, err = ref.Set(ctx, map[string]any{
		"name":      doc.Name,
		"image":     doc.Image,
		"unitPrice": doc.UnitPrice,
		"quantity":  doc.Quantity,
		"updatedAt": now,
	}, firestore.MergeAll)
	return pfirestore.WrapError("carts.items.update", err)
}

// DeleteLine removes one line; a missing line is not an error.
func (r *CartRepository) DeleteLine(ctx context.Context, userID string, key domain.LineKey) error {
	coll, err := r.items(userID)
	if err != nil {
		return err
	}
	return coll.Delete(ctx, lineDocID(key))
}

// DeleteAll removes every line of the user's cart.
func (r *CartRepository) DeleteAll(ctx context.Context, userID string) error {
	coll, err := r.items(userID)
	if err != nil {
		return err
	}
	ref, err := coll.Ref(ctx)
	if err != nil {
		return err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	refs, err := ref.DocumentRefs(ctx).GetAll()
	if err != nil {
		return pfirestore.WrapError("carts.items.list", err)
	}
	if len(refs) == 0 {
		return nil
	}
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, doc := range refs {
		job, err := writer.Delete(doc)
		if err != nil {
			writer.End()
			return pfirestore.WrapError("carts.items.delete", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return pfirestore.WrapError("carts.items.delete", err)
		}
	}
	return nil
}

// lineDocID maps a line key to a document id; '/' is not allowed in ids.
func lineDocID(key domain.LineKey) string {
	return strings.ReplaceAll(key.String(), "/", "%2F")
}
