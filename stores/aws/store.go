package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"invitecanvas/core"
)

// s3API is the part of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3Store keeps templates at templates/<userID>/<id> and guest lists at
// guests/<templateID>.json.
type s3Store struct {
	s3Client s3API
	bucket   string
	guestMu  sync.Mutex
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	return newStore(s3.NewFromConfig(cfg), bucketName)
}

func newStore(client s3API, bucket string) *s3Store {
	return &s3Store{s3Client: client, bucket: bucket}
}

// validName rejects IDs that would escape their key prefix.
func validName(kind, name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid %s id: must not be empty or a dot directory", kind)
	}
	if path.Base(name) != name {
		return fmt.Errorf("invalid %s id: must not be a path", kind)
	}
	return nil
}

func (s *s3Store) templateKey(userID, id string) (string, error) {
	if err := validName("user", userID); err != nil {
		return "", err
	}
	if err := validName("template", id); err != nil {
		return "", err
	}
	return path.Join("templates", userID, id), nil
}

func (s *s3Store) guestsKey(templateID string) (string, error) {
	if err := validName("template", templateID); err != nil {
		return "", err
	}
	return path.Join("guests", templateID+".json"), nil
}

func (s *s3Store) getJSON(ctx context.Context, key string, v any) error {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return core.ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *s3Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// storedTemplate carries the owner, which Template hides from JSON.
type storedTemplate struct {
	core.Template
	Owner string `json:"owner"`
}

func (s *s3Store) List(ctx context.Context, userID string) ([]*core.Template, error) {
	if err := validName("user", userID); err != nil {
		return nil, err
	}
	prefix := path.Join("templates", userID) + "/"
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates for user %s: %w", userID, err)
	}

	templates := make([]*core.Template, 0, len(output.Contents))
	for _, object := range output.Contents {
		var st storedTemplate
		if err := s.getJSON(ctx, aws.ToString(object.Key), &st); err != nil {
			logrus.WithError(err).WithField("key", aws.ToString(object.Key)).Warn("Skipping unreadable template")
			continue
		}
		// For list view, we don't need the full data blob.
		st.Data = nil
		st.UserID = userID
		t := st.Template
		templates = append(templates, &t)
	}
	return templates, nil
}

func (s *s3Store) Get(ctx context.Context, userID, id string) (*core.Template, error) {
	key, err := s.templateKey(userID, id)
	if err != nil {
		return nil, err
	}
	var st storedTemplate
	if err := s.getJSON(ctx, key, &st); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("template %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	st.UserID = userID
	return &st.Template, nil
}

func (s *s3Store) Save(ctx context.Context, t *core.Template) error {
	key, err := s.templateKey(t.UserID, t.ID)
	if err != nil {
		return err
	}

	// Preserve CreatedAt on update
	if t.CreatedAt.IsZero() {
		existing, err := s.Get(ctx, t.UserID, t.ID)
		if err == nil && existing != nil {
			t.CreatedAt = existing.CreatedAt
		} else {
			t.CreatedAt = time.Now()
		}
	}
	t.UpdatedAt = time.Now()

	return s.putJSON(ctx, key, storedTemplate{Template: *t, Owner: t.UserID})
}

func (s *s3Store) Delete(ctx context.Context, userID, id string) error {
	key, err := s.templateKey(userID, id)
	if err != nil {
		return err
	}
	if _, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}
	if gkey, err := s.guestsKey(id); err == nil {
		if _, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(gkey),
		}); err != nil {
			logrus.WithError(err).WithField("template_id", id).Warn("Failed to delete guest list")
		}
	}
	return nil
}

func (s *s3Store) readGuests(ctx context.Context, templateID string) (string, []core.Guest, error) {
	key, err := s.guestsKey(templateID)
	if err != nil {
		return "", nil, err
	}
	guests := []core.Guest{}
	if err := s.getJSON(ctx, key, &guests); err != nil && !errors.Is(err, core.ErrNotFound) {
		return "", nil, err
	}
	return key, guests, nil
}

func (s *s3Store) ListGuests(ctx context.Context, templateID string) ([]core.Guest, error) {
	_, guests, err := s.readGuests(ctx, templateID)
	return guests, err
}

func (s *s3Store) SaveGuest(ctx context.Context, g *core.Guest) error {
	if g.ID == "" {
		g.ID = ulid.Make().String()
	}
	if g.Status == "" {
		g.Status = core.StatusUnset
	}

	s.guestMu.Lock()
	defer s.guestMu.Unlock()

	key, guests, err := s.readGuests(ctx, g.TemplateID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range guests {
		if guests[i].ID == g.ID {
			guests[i] = *g
			replaced = true
		}
	}
	if !replaced {
		guests = append(guests, *g)
		sort.Slice(guests, func(i, j int) bool { return strings.Compare(guests[i].ID, guests[j].ID) < 0 })
	}
	return s.putJSON(ctx, key, guests)
}

func (s *s3Store) UpdateStatus(ctx context.Context, templateID, guestID string, status core.GuestStatus) error {
	return s.modifyGuest(ctx, templateID, guestID, func(guests []core.Guest, i int) []core.Guest {
		guests[i].Status = status
		return guests
	})
}

func (s *s3Store) DeleteGuest(ctx context.Context, templateID, guestID string) error {
	return s.modifyGuest(ctx, templateID, guestID, func(guests []core.Guest, i int) []core.Guest {
		return append(guests[:i], guests[i+1:]...)
	})
}

func (s *s3Store) modifyGuest(ctx context.Context, templateID, guestID string, fn func([]core.Guest, int) []core.Guest) error {
	s.guestMu.Lock()
	defer s.guestMu.Unlock()

	key, guests, err := s.readGuests(ctx, templateID)
	if err != nil {
		return err
	}
	for i := range guests {
		if guests[i].ID == guestID {
			return s.putJSON(ctx, key, fn(guests, i))
		}
	}
	return fmt.Errorf("guest %s: %w", guestID, core.ErrNotFound)
}
