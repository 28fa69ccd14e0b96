package classroom

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/realtime"
)

// CreateClass creates a class taught by caller, its sole member.
func (svc *Service) CreateClass(ctx context.Context, caller Caller, nc NewClass) (Class, error) {
	if err := nc.Validate(svc.validate); err != nil {
		return Class{}, err
	}

	var cls Class
	err := svc.guarded(ctx, actionCreateClass, caller, "", func(ctx context.Context) error {
		now := svc.now()
		created, err := svc.repo.CreateClass(ctx, Class{
			ID:           uuid.NewString(),
			Name:         nc.Name,
			Section:      nc.Section,
			Subject:      nc.Subject,
			Teacher:      nc.Teacher,
			ClassCode:    svc.gen.Code(),
			Color:        svc.gen.Color(),
			CreatedBy:    caller.UID,
			CreatedAt:    now,
			LastModified: now,
			Version:      1,
			Members: map[string]Member{
				caller.UID: {
					Role:     RoleTeacher,
					Name:     caller.DisplayName(),
					Email:    caller.Email,
					PhotoURL: caller.PhotoURL,
					Joined:   now,
				},
			},
		})
		if err != nil {
			return errors.Wrap(err, "creating class")
		}
		cls = created
		return nil
	})
	if err != nil {
		return Class{}, err
	}

	svc.publishClass(ctx, realtime.KindAdded, cls)
	return cls.ViewFor(caller.UID), nil
}

// JoinClass adds caller as a student of the class holding `code`. When several classes share the code,
// the oldest one wins.
func (svc *Service) JoinClass(ctx context.Context, caller Caller, code string) (Class, error) {
	code = core.CleanUpper(code)
	if code == "" {
		return Class{}, core.NewFieldError("classCode", errBlankCode.Error())
	}

	var cls Class
	err := svc.guarded(ctx, actionJoinClass, caller, code, func(ctx context.Context) error {
		matches, err := svc.repo.QueryClasses(ctx, ClassFilter{Code: code})
		if err != nil {
			return errors.Wrap(err, "querying classes by code")
		}
		if len(matches) == 0 {
			return core.NewFieldError("classCode", errInvalidCode.Error())
		}
		target := matches[0]
		if target.IsMember(caller.UID) {
			return core.NewValidationError(ErrAlreadyMember)
		}

		now := svc.now()
		cls, err = svc.repo.AddMember(ctx, target.ID, caller.UID, Member{
			Role:     RoleStudent,
			Name:     caller.DisplayName(),
			Email:    caller.Email,
			PhotoURL: caller.PhotoURL,
			Joined:   now,
		}, now)
		if err != nil {
			if errors.Cause(err) == ErrAlreadyMember {
				return core.NewValidationError(ErrAlreadyMember)
			}
			return errors.Wrap(err, "adding member")
		}
		return nil
	})
	if err != nil {
		return Class{}, err
	}

	svc.publishClass(ctx, realtime.KindModified, cls)
	return cls.ViewFor(caller.UID), nil
}

// LoadClasses lists the classes caller created or belongs to, most recently modified first.
func (svc *Service) LoadClasses(ctx context.Context, caller Caller) ([]Class, error) {
	var created, joined []Class

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		created, err = svc.repo.QueryClasses(gctx, ClassFilter{CreatedBy: caller.UID})
		return errors.Wrap(err, "querying created classes")
	})
	g.Go(func() error {
		var err error
		joined, err = svc.repo.QueryClasses(gctx, ClassFilter{MemberID: caller.UID, MemberRoles: Roles})
		return errors.Wrap(err, "querying joined classes")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeDirectory(caller.UID, created, joined), nil
}

// mergeDirectory merges both result sets by class id. Created classes win and are tagged teacher; the
// others carry the member role. Ordered by lastModified (createdAt when unset) desc, then id.
func mergeDirectory(uid string, created, joined []Class) []Class {
	byID := make(map[string]Class, len(created)+len(joined))
	for _, cls := range joined {
		role := RoleStudent
		if m, ok := cls.Members[uid]; ok && m.Role != "" {
			role = m.Role
		}
		cls = cls.Clone()
		cls.Role = role
		cls.IsTeacher = role == RoleTeacher
		byID[cls.ID] = cls
	}
	for _, cls := range created {
		cls = cls.Clone()
		cls.Role = RoleTeacher
		cls.IsTeacher = true
		byID[cls.ID] = cls
	}

	classes := make([]Class, 0, len(byID))
	for _, cls := range byID {
		classes = append(classes, cls)
	}
	sortKey := func(cls Class) int64 {
		if !cls.LastModified.IsZero() {
			return cls.LastModified.UnixNano()
		}
		return cls.CreatedAt.UnixNano()
	}
	sort.Slice(classes, func(i, j int) bool {
		ki, kj := sortKey(classes[i]), sortKey(classes[j])
		if ki != kj {
			return ki > kj
		}
		return classes[i].ID < classes[j].ID
	})
	return classes
}

// GetClass gates entry to a class: it must exist and caller must belong to it.
func (svc *Service) GetClass(ctx context.Context, caller Caller, id string) (Class, error) {
	cls, err := svc.memberClass(ctx, caller, id)
	if err != nil {
		return Class{}, err
	}
	return cls.ViewFor(caller.UID), nil
}

// ClassCode returns the join code of a class caller teaches.
func (svc *Service) ClassCode(ctx context.Context, caller Caller, id string) (string, error) {
	cls, err := svc.teacherClass(ctx, caller, id)
	if err != nil {
		return "", err
	}
	return cls.ClassCode, nil
}

// DeleteClass deletes a class created by caller along with everything it contains.
func (svc *Service) DeleteClass(ctx context.Context, caller Caller, id string) error {
	var cls Class
	err := svc.guarded(ctx, actionDeleteClass, caller, id, func(ctx context.Context) error {
		var err error
		cls, err = svc.repo.GetClass(ctx, id)
		if err != nil {
			return err
		}
		if cls.CreatedBy != caller.UID {
			return ErrPermissionDenied
		}
		return errors.Wrap(svc.repo.DeleteClass(ctx, id), "deleting class")
	})
	if err != nil {
		return err
	}

	cls.Version++
	svc.publishClass(ctx, realtime.KindRemoved, cls)
	return nil
}

// LeaveClass removes caller from a class they joined.
func (svc *Service) LeaveClass(ctx context.Context, caller Caller, id string) error {
	var cls Class
	err := svc.guarded(ctx, actionLeaveClass, caller, id, func(ctx context.Context) error {
		current, err := svc.repo.GetClass(ctx, id)
		if err != nil {
			return err
		}
		if current.CreatedBy == caller.UID {
			return core.NewValidationError(errCreatorCannotLeave)
		}
		if _, ok := current.Members[caller.UID]; !ok {
			return core.NewValidationError(errNotMember)
		}
		cls, err = svc.repo.RemoveMember(ctx, id, caller.UID, svc.now())
		if err != nil {
			if errors.Cause(err) == ErrMemberNotFound {
				return core.NewValidationError(errNotMember)
			}
			return errors.Wrap(err, "removing member")
		}
		return nil
	})
	if err != nil {
		return err
	}

	svc.publishClass(ctx, realtime.KindModified, cls)
	return nil
}
