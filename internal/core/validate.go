package core

import (
	"fmt"
	"slices"

	"metax/pkg/domain"
)

// ValidatePublished checks that d carries everything a published dataset
// needs. Legacy datasets from harvested catalogs may lack creators, and
// legacy datasets in general skip the publisher and license checks.
func ValidatePublished(d domain.Dataset, catalog *domain.DataCatalog, requirePID bool) error {
	verr := &domain.ValidationError{}
	if d.DataCatalog == "" {
		verr.Add("data_catalog", "Dataset has to have a data catalog when publishing.")
	}
	if requirePID && d.PersistentIdentifier == "" {
		verr.Add("persistent_identifier", "Dataset has to have a persistent identifier when publishing.")
	}
	if d.AccessRights == nil {
		verr.Add("access_rights", "Dataset has to have access rights when publishing.")
	}
	if d.Description.IsEmpty() {
		verr.Add("description", "Dataset has to have a description when publishing.")
	}
	harvested := catalog != nil && catalog.Harvested
	if !(d.Legacy && harvested) && len(d.ActorsWithRole(domain.RoleCreator)) == 0 {
		verr.Add("actors", "An actor with creator role is required.")
	}
	if !d.Legacy {
		if len(d.ActorsWithRole(domain.RolePublisher)) != 1 {
			verr.Add("actors", "Exactly one actor with publisher role is required.")
		}
		if ar := d.AccessRights; ar != nil {
			if len(ar.License) == 0 {
				verr.Add("access_rights", "Dataset has to have a license when publishing.")
			}
			open := ar.AccessType != nil && ar.AccessType.URL == domain.AccessTypeOpen
			if !open && len(ar.RestrictionGrounds) == 0 {
				verr.Add("access_rights", "Dataset access rights has to contain restriction grounds if access type is not 'Open'.")
			}
			if open && len(ar.RestrictionGrounds) > 0 {
				verr.Add("access_rights", "Open datasets do not accept restriction grounds.")
			}
		}
	}
	return verr.OrNil()
}

// validateCatalog enforces the data catalog constraints on remote resources,
// file storage services and PID types.
func validateCatalog(view domain.TransactionView, d domain.Dataset) error {
	if d.DataCatalog == "" {
		return nil
	}
	catalog, ok := view.FindDataCatalog(d.DataCatalog)
	if !ok || catalog.Removed != nil {
		return domain.NewValidationError("data_catalog", fmt.Sprintf("Data catalog %s not found.", d.DataCatalog))
	}
	verr := &domain.ValidationError{}
	if len(d.RemoteResources) > 0 && !catalog.AllowRemoteResources {
		verr.Add("remote_resources", fmt.Sprintf("Data catalog %s does not allow remote resources.", catalog.ID))
	}
	if fs, ok := view.FindFileSet(d.ID); ok {
		if storage, ok := view.FindFileStorage(fs.StorageID); ok && !catalog.AllowsStorageService(storage.StorageService) {
			verr.Add("fileset", fmt.Sprintf("Data catalog %s does not allow files from service %s.", catalog.ID, storage.StorageService))
		}
	}
	if d.PIDType != "" && len(catalog.AllowedPIDTypes) > 0 && !slices.Contains(catalog.AllowedPIDTypes, d.PIDType) {
		verr.Add("pid_type", fmt.Sprintf("Data catalog %s does not allow PID type %s.", catalog.ID, d.PIDType))
	}
	return verr.OrNil()
}

// allowedCumulativeStates returns the states d may move to given the
// cumulative state of its public counterpart, if any.
func allowedCumulativeStates(public *domain.CumulativeState) []domain.CumulativeState {
	if public == nil {
		return []domain.CumulativeState{domain.CumulativeNot, domain.CumulativeActive}
	}
	allowed := []domain.CumulativeState{*public}
	if *public == domain.CumulativeActive {
		allowed = append(allowed, domain.CumulativeClosed)
	}
	return allowed
}

// validateCumulative compares d against its previously saved version, or
// against the dataset it is a draft of.
func validateCumulative(view domain.TransactionView, d domain.Dataset, prev *domain.Dataset) error {
	var public *domain.CumulativeState
	switch {
	case d.IsPublished():
		if prev != nil && prev.IsPublished() {
			st := prev.CumulativeState
			public = &st
		}
	case d.DraftOf != "":
		if orig, ok := view.FindDataset(d.DraftOf); ok {
			st := orig.CumulativeState
			public = &st
		}
	}
	if !slices.Contains(allowedCumulativeStates(public), d.CumulativeState) {
		return domain.NewValidationError("cumulative_state", fmt.Sprintf("Cannot change state to %d.", d.CumulativeState))
	}
	return nil
}

// hasFiles reports whether the file set of datasetID contains files.
func hasFiles(view domain.TransactionView, datasetID string) bool {
	fs, ok := view.FindFileSet(datasetID)
	return ok && len(fs.FileIDs) > 0
}

// hasPublishedFiles reports whether d or the dataset it drafts has files
// visible to the public.
func hasPublishedFiles(view domain.TransactionView, d domain.Dataset) bool {
	if d.IsDraft() {
		if d.DraftOf == "" {
			return false
		}
		orig, ok := view.FindDataset(d.DraftOf)
		if !ok {
			return false
		}
		return hasPublishedFiles(view, orig)
	}
	return hasFiles(view, d.ID)
}

// AllowAddingFiles reports whether files may be added to d.
func AllowAddingFiles(view domain.TransactionView, d domain.Dataset) bool {
	if d.IsDraft() {
		if d.DraftOf != "" {
			if orig, ok := view.FindDataset(d.DraftOf); ok {
				return AllowAddingFiles(view, orig)
			}
		}
		return true
	}
	return d.CumulativeState == domain.CumulativeActive || !hasFiles(view, d.ID)
}

// AllowRemovingFiles reports whether files may be removed from d.
func AllowRemovingFiles(view domain.TransactionView, d domain.Dataset) bool {
	return !hasPublishedFiles(view, d)
}
