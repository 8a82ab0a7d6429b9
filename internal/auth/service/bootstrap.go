package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/codegrant/internal/auth/audit"
	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
	"github.com/aussiebroadwan/codegrant/internal/auth/store"
	"github.com/aussiebroadwan/codegrant/pkg/cryptox"
	"github.com/aussiebroadwan/codegrant/pkg/idx"
	"github.com/aussiebroadwan/codegrant/pkg/slogx"
)

// Bootstrapper brings a store to its initial state: schema, roles, one
// administrator and the default clients.
type Bootstrapper struct {
	Store   store.Store
	Hasher  cryptox.Hasher
	Seed    domain.SeedData
	Auditor *audit.Auditor
	Now     func() time.Time

	group singleflight.Group
}

// BootstrapResult reports what a run created. Generated credentials appear
// here once, on the run that created them, and are never stored in clear.
type BootstrapResult struct {
	RolesCreated   int
	ClientsCreated int

	AdminCreated bool

	// AdminID is the bootstrap administrator, whichever run created it.
	AdminID string

	// Set only when the admin password was generated by this run.
	GeneratedAdminPassword string

	// Secrets for confidential clients created by this run, keyed by client id.
	ClientSecrets map[string]string
}

// Initialize is idempotent. Every seed row is written with insert-or-ignore,
// so rows that already exist count as success, while any other store error
// fails the run. Concurrent calls in this process share one run; separate
// processes are kept consistent by the store's unique indexes, including the
// one allowing a single bootstrap administrator.
func (b *Bootstrapper) Initialize(ctx context.Context) (*BootstrapResult, error) {
	v, err, _ := b.group.Do("initialize", func() (any, error) {
		return b.initialize(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*BootstrapResult), nil
}

func (b *Bootstrapper) initialize(ctx context.Context) (*BootstrapResult, error) {
	log := slogx.FromContext(ctx)

	if err := b.Store.ApplyMigrations(); err != nil {
		return nil, fmt.Errorf("%w: apply migrations: %w", ErrStoreUnavailable, err)
	}

	// Hashing is slow; do it before taking the write lock.
	creds, err := b.prepareCredentials()
	if err != nil {
		return nil, err
	}

	now := clock(b.Now)
	res := &BootstrapResult{ClientSecrets: map[string]string{}}

	err = b.Store.WithTx(ctx, func(tx store.Tx) error {
		for _, def := range b.Seed.Roles {
			ok, err := tx.Roles().InsertRoleIfAbsent(ctx, domain.Role{
				ID:        idx.NewAt(now).String(),
				Name:      def.Name,
				Scopes:    def.Scopes,
				CreatedAt: now,
			})
			if err != nil {
				return fmt.Errorf("seed role %q: %w", def.Name, err)
			}
			if ok {
				res.RolesCreated++
			}
		}

		adminRole, err := tx.Roles().GetRoleByName(ctx, b.Seed.AdminRole)
		if errors.Is(err, store.ErrNotFound) {
			return violated(ErrInvalidRequest, fmt.Sprintf("admin role %q is not seeded", b.Seed.AdminRole))
		}
		if err != nil {
			return fmt.Errorf("admin role %q: %w", b.Seed.AdminRole, err)
		}

		admin := domain.Account{
			ID:             idx.NewAt(now).String(),
			Username:       b.Seed.AdminUsername,
			PasswordHash:   creds.adminHash,
			RoleID:         adminRole.ID,
			BootstrapAdmin: true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		res.AdminCreated, err = tx.Accounts().InsertAccountIfAbsent(ctx, admin)
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		if res.AdminCreated {
			res.AdminID = admin.ID
			res.GeneratedAdminPassword = creds.generatedAdminPassword
		} else {
			existing, err := tx.Accounts().GetBootstrapAdmin(ctx)
			if errors.Is(err, store.ErrNotFound) {
				return violated(ErrInvalidRequest, fmt.Sprintf("username %q is taken by a non-bootstrap account", b.Seed.AdminUsername))
			}
			if err != nil {
				return fmt.Errorf("bootstrap admin: %w", err)
			}
			res.AdminID = existing.ID
		}

		for _, def := range b.Seed.Clients {
			c := domain.Client{
				ID:           def.ID,
				Name:         def.Name,
				Type:         def.Type,
				RedirectURIs: def.RedirectURIs,
				Scopes:       def.Scopes,
				SecretHash:   creds.clientHashes[def.ID],
				Protected:    true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			ok, err := tx.Clients().InsertClientIfAbsent(ctx, c)
			if err != nil {
				return fmt.Errorf("seed client %q: %w", def.ID, err)
			}
			if ok {
				res.ClientsCreated++
				if secret, has := creds.clientSecrets[def.ID]; has {
					res.ClientSecrets[def.ID] = secret
				}
			}
		}
		return nil
	})
	if errors.Is(err, ErrInvalidRequest) {
		return nil, err
	}
	if errors.Is(err, store.ErrInvalidRecord) {
		return nil, fmt.Errorf("%w: bootstrap: %w", ErrInvalidRequest, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: bootstrap: %w", ErrStoreUnavailable, err)
	}

	if res.AdminCreated {
		b.Auditor.Emit(audit.Event{
			Type:      audit.EventBootstrapAdminCreated,
			SubjectID: res.AdminID,
			Timestamp: now,
		})
	}
	log.Info("store initialized",
		slog.Int("roles_created", res.RolesCreated),
		slog.Int("clients_created", res.ClientsCreated),
		slog.Bool("admin_created", res.AdminCreated),
	)
	return res, nil
}

type seedCredentials struct {
	adminHash              string
	generatedAdminPassword string
	clientSecrets          map[string]string
	clientHashes           map[string]string
}

func (b *Bootstrapper) prepareCredentials() (*seedCredentials, error) {
	creds := &seedCredentials{
		clientSecrets: map[string]string{},
		clientHashes:  map[string]string{},
	}

	password := b.Seed.AdminPassword
	if password == "" {
		generated, err := cryptox.GeneratePassword()
		if err != nil {
			return nil, fmt.Errorf("generate admin password: %w", err)
		}
		password = generated
		creds.generatedAdminPassword = generated
	}
	hash, err := b.Hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	creds.adminHash = hash

	for _, def := range b.Seed.Clients {
		switch def.Type {
		case domain.ClientPublic:
			continue
		case domain.ClientConfidential:
		default:
			return nil, fmt.Errorf("seed client %q: unknown type", def.ID)
		}

		secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return nil, fmt.Errorf("generate client secret: %w", err)
		}
		hash, err := b.Hasher.Hash(secret)
		if err != nil {
			return nil, fmt.Errorf("hash client secret: %w", err)
		}
		creds.clientSecrets[def.ID] = secret
		creds.clientHashes[def.ID] = hash
	}
	return creds, nil
}
