package classroom

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/realtime"
)

// ChangeRole sets the role of a class member; teachers only. Callers cannot change their own role, and
// the creator always stays a teacher.
func (svc *Service) ChangeRole(ctx context.Context, caller Caller, classID, targetUID string, cr ChangeRole) (Class, error) {
	if err := cr.Validate(svc.validate); err != nil {
		return Class{}, err
	}
	if targetUID == caller.UID {
		return Class{}, core.NewValidationError(errCannotChangeOwnRole)
	}

	var cls Class
	err := svc.guarded(ctx, actionChangeRole, caller, classID+":"+targetUID, func(ctx context.Context) error {
		current, err := svc.teacherClass(ctx, caller, classID)
		if err != nil {
			return err
		}
		if targetUID == current.CreatedBy {
			return core.NewValidationError(errCannotChangeCreatorRole)
		}
		if _, ok := current.Members[targetUID]; !ok {
			return ErrMemberNotFound
		}
		cls, err = svc.repo.SetMemberRole(ctx, classID, targetUID, cr.Role, svc.now())
		return errors.Wrap(err, "setting member role")
	})
	if err != nil {
		return Class{}, err
	}

	svc.publishClass(ctx, realtime.KindModified, cls)
	return cls.ViewFor(caller.UID), nil
}
