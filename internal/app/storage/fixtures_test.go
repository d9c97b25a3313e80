package storage

import (
	"github.com/forgemirror/mirror-layer/internal/app/domain/job"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
)

func repoFixture(userID, fullName string) repository.Repository {
	return repository.Repository{
		UserID:             userID,
		FullName:           fullName,
		NormalizedFullName: fullName,
		Status:             repository.StatusImported,
	}
}

func jobFixture(userID string, itemIDs []string) job.Job {
	return job.Job{
		UserID:     userID,
		Type:       job.TypeMirror,
		BatchID:    "batch-1",
		TotalItems: len(itemIDs),
		ItemIDs:    itemIDs,
		InProgress: true,
	}
}
