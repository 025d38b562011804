// Package provision sets up a site for the support companion: it enables
// the web service protocols, creates the service user, role and service,
// and issues a permanent token.
package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/store"
	"github.com/pavelanni/suppcompanion/internal/webservice"
)

// Service identity.
const (
	ServiceName      = "Support Companion"
	ServiceShortName = "support_companion"
	ServiceComponent = "local_suppcompanion"
	Protocol         = "restful"
)

// Functions lists the functions the service offers.
var Functions = []string{
	webservice.FuncCreateCourse,
	webservice.FuncCreateMod,
	webservice.FuncGetCourse,
	"core_user_get_users",
}

// ExtraCapabilities are granted to the service role on top of the manager archetype.
var ExtraCapabilities = []string{
	model.CapWebserviceRestfulUse,
	"moodle/user:viewdetails",
	"moodle/user:viewhiddendetails",
	"moodle/course:useremail",
	"moodle/user:update",
	model.CapCourseCreate,
	"mod/quiz:addinstance",
	"mod/quiz:manage",
}

// Options customise provisioning.
type Options struct {
	// Password for the service user. A random one is generated when empty.
	Password string
}

// Result describes what Ensure set up.
type Result struct {
	UserID    int64
	RoleID    int64
	ServiceID int64
	Token     string
	// Created lists the objects created by this run.
	Created []string
}

// slug turns the service name into the form used in user and role names.
func slug() string {
	return strings.ToLower(strings.ReplaceAll(ServiceName, " ", ""))
}

// Username is the service user's login name.
func Username() string { return "ws-" + slug() + "-user" }

// RoleShortName is the service role's short name.
func RoleShortName() string { return "ws-" + slug() + "-role" }

// Ensure brings the site into the provisioned state. Running it again
// reuses the existing user, role, service and token.
func Ensure(ctx context.Context, s *store.Store, opts Options) (*Result, error) {
	res := &Result{}
	err := s.InTx(ctx, func(ctx context.Context) error {
		if err := s.SetConfig(ctx, store.ConfigEnableWebServices, "1"); err != nil {
			return fmt.Errorf("enable web services: %w", err)
		}
		if err := s.EnableProtocol(ctx, Protocol); err != nil {
			return fmt.Errorf("enable protocol: %w", err)
		}

		var err error
		if res.UserID, err = ensureUser(ctx, s, opts, res); err != nil {
			return err
		}
		if res.RoleID, err = ensureRole(ctx, s, res); err != nil {
			return err
		}
		if err := s.AssignRole(ctx, res.RoleID, res.UserID, model.SystemContext()); err != nil {
			return fmt.Errorf("assign role: %w", err)
		}
		if res.ServiceID, err = ensureService(ctx, s, res); err != nil {
			return err
		}
		if err := s.AuthoriseServiceUser(ctx, res.ServiceID, res.UserID); err != nil {
			return fmt.Errorf("authorise user: %w", err)
		}

		if res.Token, err = s.FindToken(ctx, res.UserID, res.ServiceID); err != nil {
			return fmt.Errorf("find token: %w", err)
		}
		if res.Token == "" {
			if res.Token, err = s.CreateToken(ctx, res.UserID, res.ServiceID, time.Time{}); err != nil {
				return fmt.Errorf("create token: %w", err)
			}
			res.Created = append(res.Created, "token")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("provisioned web service", "service", ServiceShortName, "user", Username(), "created", res.Created)
	return res, nil
}

func ensureUser(ctx context.Context, s *store.Store, opts Options, res *Result) (int64, error) {
	u, err := s.GetUserByUsername(ctx, Username())
	if err != nil {
		return 0, fmt.Errorf("get user: %w", err)
	}
	if u != nil {
		return u.ID, nil
	}

	password := opts.Password
	if password == "" {
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			return 0, err
		}
		password = hex.EncodeToString(b)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	id, err := s.CreateUser(ctx, model.User{
		Username:     Username(),
		FirstName:    "Webservice",
		LastName:     "User (" + ServiceName + ")",
		Email:        Username() + "@example.com",
		PasswordHash: string(hash),
		Confirmed:    true,
	})
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	res.Created = append(res.Created, "user")
	return id, nil
}

func ensureRole(ctx context.Context, s *store.Store, res *Result) (int64, error) {
	r, err := s.GetRoleByShortName(ctx, RoleShortName())
	if err != nil {
		return 0, fmt.Errorf("get role: %w", err)
	}
	if r != nil {
		return r.ID, nil
	}

	id, err := s.CreateRole(ctx, model.Role{
		ShortName: RoleShortName(),
		Name:      "WS Role for " + ServiceName,
		Archetype: "manager",
	})
	if err != nil {
		return 0, fmt.Errorf("create role: %w", err)
	}
	if err := s.SetRoleContextLevels(ctx, id,
		model.ContextSystem, model.ContextCourse, model.ContextModule, model.ContextUser); err != nil {
		return 0, fmt.Errorf("set role context levels: %w", err)
	}
	for _, c := range append(store.ArchetypeCapabilities("manager"), ExtraCapabilities...) {
		if err := s.AllowCapability(ctx, id, c); err != nil {
			return 0, fmt.Errorf("allow %s: %w", c, err)
		}
	}
	res.Created = append(res.Created, "role")
	return id, nil
}

func ensureService(ctx context.Context, s *store.Store, res *Result) (int64, error) {
	svc, err := s.GetServiceByShortName(ctx, ServiceShortName)
	if err != nil {
		return 0, fmt.Errorf("get service: %w", err)
	}
	if svc == nil {
		id, err := s.CreateService(ctx, model.ExternalService{
			Name:            ServiceName,
			ShortName:       ServiceShortName,
			Component:       ServiceComponent,
			Enabled:         true,
			RestrictedUsers: true,
		})
		if err != nil {
			return 0, fmt.Errorf("create service: %w", err)
		}
		svc = &model.ExternalService{ID: id}
		res.Created = append(res.Created, "service")
	} else if !svc.Enabled {
		svc.Enabled = true
		if err := s.UpdateService(ctx, *svc); err != nil {
			return 0, fmt.Errorf("enable service: %w", err)
		}
	}
	for _, fn := range Functions {
		if err := s.AddServiceFunction(ctx, svc.ID, fn); err != nil {
			return 0, fmt.Errorf("add function %s: %w", fn, err)
		}
	}
	return svc.ID, nil
}
