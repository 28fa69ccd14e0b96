package classroom

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/realtime"
)

// PostAnnouncement publishes a class announcement authored by caller.
func (svc *Service) PostAnnouncement(ctx context.Context, caller Caller, classID string, na NewAnnouncement) (Announcement, error) {
	content := core.CleanString(na.Content)
	if content == "" {
		return Announcement{}, core.NewFieldError("content", errEmptyAnnouncement.Error())
	}

	var (
		ann Announcement
		cls Class
	)
	err := svc.guarded(ctx, actionPostAnnouncement, caller, classID, func(ctx context.Context) error {
		if _, err := svc.memberClass(ctx, caller, classID); err != nil {
			return err
		}
		now := svc.now()
		var err error
		ann, err = svc.repo.CreateAnnouncement(ctx, Announcement{
			ID:          uuid.NewString(),
			ClassID:     classID,
			Content:     content,
			AuthorID:    caller.UID,
			AuthorName:  caller.DisplayName(),
			AuthorPhoto: caller.PhotoURL,
			CreatedAt:   now,
			Version:     1,
		})
		if err != nil {
			return errors.Wrap(err, "creating announcement")
		}
		cls, err = svc.repo.TouchClass(ctx, classID, now)
		return errors.Wrap(err, "touching class")
	})
	if err != nil {
		return Announcement{}, err
	}

	svc.publish(ctx, realtime.AnnouncementsTopic(classID), realtime.KindAdded, realtime.EntityAnnouncement, ann.ID, ann.Version, ann)
	svc.publishClass(ctx, realtime.KindModified, cls)
	ann.CanDelete = true
	return ann, nil
}

// DeleteAnnouncement deletes an announcement; allowed to its author and to teachers.
func (svc *Service) DeleteAnnouncement(ctx context.Context, caller Caller, classID, id string) error {
	var ann Announcement
	err := svc.guarded(ctx, actionDeleteAnnouncement, caller, id, func(ctx context.Context) error {
		cls, err := svc.memberClass(ctx, caller, classID)
		if err != nil {
			return err
		}
		ann, err = svc.repo.GetAnnouncement(ctx, id)
		if err != nil {
			return err
		}
		if ann.ClassID != classID {
			return ErrAnnouncementNotFound
		}
		if !CanDeleteAnnouncement(cls, ann, caller.UID) {
			return ErrPermissionDenied
		}
		return errors.Wrap(svc.repo.DeleteAnnouncement(ctx, id), "deleting announcement")
	})
	if err != nil {
		return err
	}

	svc.publish(ctx, realtime.AnnouncementsTopic(classID), realtime.KindRemoved, realtime.EntityAnnouncement, ann.ID, ann.Version+1, nil)
	return nil
}

// ListAnnouncements lists the class announcements, newest first, flagging the ones caller may delete.
func (svc *Service) ListAnnouncements(ctx context.Context, caller Caller, classID string) ([]Announcement, error) {
	cls, err := svc.memberClass(ctx, caller, classID)
	if err != nil {
		return nil, err
	}
	anns, err := svc.repo.QueryAnnouncements(ctx, classID)
	if err != nil {
		return nil, errors.Wrap(err, "querying announcements")
	}
	for i := range anns {
		anns[i].CanDelete = CanDeleteAnnouncement(cls, anns[i], caller.UID)
	}
	if anns == nil {
		anns = []Announcement{}
	}
	return anns, nil
}

// CanDeleteAnnouncement: authors and teachers may delete an announcement.
func CanDeleteAnnouncement(cls Class, ann Announcement, uid string) bool {
	return ann.AuthorID == uid || IsTeacher(cls, uid)
}
