package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carousel.org/internal/approval"
	"carousel.org/internal/authn"
	authnremote "carousel.org/internal/authn/remote"
	"carousel.org/internal/httpapi"
	"carousel.org/internal/identity"
	identityremote "carousel.org/internal/identity/remote"
	"carousel.org/internal/notify"
	"carousel.org/internal/obs"
	"carousel.org/internal/roles"
	rolesremote "carousel.org/internal/roles/remote"
	"carousel.org/internal/session"
	"carousel.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()

	dsn := os.Getenv("CAROUSEL_PG_DSN")
	if dsn == "" {
		log.Fatal("missing CAROUSEL_PG_DSN")
	}
	authSecret := os.Getenv("CAROUSEL_AUTH_SECRET")
	sessionSecret := os.Getenv("CAROUSEL_SESSION_SECRET")
	if authSecret == "" || sessionSecret == "" {
		log.Fatal("missing CAROUSEL_AUTH_SECRET or CAROUSEL_SESSION_SECRET")
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	notifier := buildNotifier()

	authnSvc, err := authn.NewService(store, []byte(authSecret))
	if err != nil {
		log.Fatalf("authn: %v", err)
	}
	sessionSvc, err := session.NewService([]byte(sessionSecret))
	if err != nil {
		log.Fatalf("session: %v", err)
	}

	// Collaborator wiring: a configured peer URL routes the call over HTTP,
	// otherwise the in-process sibling serves it. Late-bound adapters break
	// the identity/roles construction cycle.
	var credReg identity.CredentialRegistrar = credentialRegistrar{authnSvc}
	if u := os.Getenv("CAROUSEL_AUTHN_URL"); u != "" {
		credReg, err = authnremote.New(u)
		if err != nil {
			log.Fatalf("authn remote: %v", err)
		}
	}

	roleDir := &roleDirectory{}
	var identityRoleDir identity.RoleDirectory = roleDir
	if u := os.Getenv("CAROUSEL_ROLES_URL"); u != "" {
		identityRoleDir, err = rolesremote.New(u)
		if err != nil {
			log.Fatalf("roles remote: %v", err)
		}
	}

	identitySvc, err := identity.NewService(store, credReg, identityRoleDir, notifier,
		identity.WithVerifyBaseURL(os.Getenv("CAROUSEL_VERIFY_URL")))
	if err != nil {
		log.Fatalf("identity: %v", err)
	}

	var directory roles.IdentityDirectory = identitySvc
	var approvalIdentity approval.Identity = identitySvc
	if u := os.Getenv("CAROUSEL_IDENTITY_URL"); u != "" {
		client, err := identityremote.New(u)
		if err != nil {
			log.Fatalf("identity remote: %v", err)
		}
		directory = client
		approvalIdentity = client
	}

	rolesSvc, err := roles.NewService(store, directory)
	if err != nil {
		log.Fatalf("roles: %v", err)
	}
	roleDir.svc = rolesSvc

	approvalSvc, err := approval.NewService(store, approvalIdentity, notifier,
		approval.WithReviewer(os.Getenv("CAROUSEL_REVIEWER_EMAIL")))
	if err != nil {
		log.Fatalf("approval: %v", err)
	}

	api := httpapi.New(httpapi.Services{
		Authn:     authnSvc,
		Sessions:  sessionSvc,
		Roles:     rolesSvc,
		Identity:  identitySvc,
		Approvals: approvalSvc,
	}, httpapi.ReadyProbe{DB: store.DB()}, version)

	addr := os.Getenv("CAROUSEL_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting carousel-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func buildNotifier() notify.Notifier {
	addr := os.Getenv("CAROUSEL_SMTP_ADDR")
	from := os.Getenv("CAROUSEL_SMTP_FROM")
	if addr == "" || from == "" {
		return notify.LogNotifier{}
	}
	n, err := notify.NewSMTPNotifier(addr, from)
	if err != nil {
		log.Fatalf("smtp notifier: %v", err)
	}
	return n
}

// credentialRegistrar adapts the authentication service to the interface the
// identity component consumes.
type credentialRegistrar struct {
	svc *authn.Service
}

func (c credentialRegistrar) RegisterCredential(ctx context.Context, email, secret string) error {
	return c.svc.CreateCredential(ctx, email, secret)
}

// roleDirectory defers to the role service built after the identity service.
type roleDirectory struct {
	svc *roles.Service
}

func (d *roleDirectory) AssignDefaultRole(ctx context.Context, email string) error {
	return d.svc.AssignDefaultRole(ctx, email)
}

func (d *roleDirectory) UserHasRole(ctx context.Context, email, roleName string) (bool, error) {
	return d.svc.UserHasRole(ctx, email, roleName)
}
