package memory

import "metax/pkg/domain"

// stateView exposes read-only access to a memory state.
type stateView struct {
	state *memoryState
}

var _ TransactionView = stateView{}

func (v stateView) ListDatasets() []domain.Dataset {
	return listRecords(v.state.datasets, nil)
}

func (v stateView) FindDataset(id string) (domain.Dataset, bool) {
	return getRecord(v.state.datasets, id)
}

func (v stateView) FindDatasetVersions(id string) (domain.DatasetVersions, bool) {
	return getRecord(v.state.versions, id)
}

func (v stateView) ListDatasetRevisions(datasetID string) []domain.DatasetRevision {
	return listRecords(v.state.revisions, func(r domain.DatasetRevision) bool {
		return r.DatasetID == datasetID
	})
}

func (v stateView) ListDataCatalogs() []domain.DataCatalog {
	return listRecords(v.state.catalogs, nil)
}

func (v stateView) FindDataCatalog(id string) (domain.DataCatalog, bool) {
	return getRecord(v.state.catalogs, id)
}

func (v stateView) ListOrganizations() []domain.Organization {
	return listRecords(v.state.orgs, nil)
}

func (v stateView) FindOrganization(id string) (domain.Organization, bool) {
	return getRecord(v.state.orgs, id)
}

func (v stateView) ListContracts() []domain.Contract {
	return listRecords(v.state.contracts, nil)
}

func (v stateView) FindContract(id string) (domain.Contract, bool) {
	return getRecord(v.state.contracts, id)
}

func (v stateView) ListConcepts() []domain.Concept {
	return listRecords(v.state.concepts, nil)
}

func (v stateView) FindConcept(id string) (domain.Concept, bool) {
	return getRecord(v.state.concepts, id)
}

func (v stateView) ListFileStorages() []domain.FileStorage {
	return listRecords(v.state.storages, nil)
}

func (v stateView) FindFileStorage(id string) (domain.FileStorage, bool) {
	return getRecord(v.state.storages, id)
}

func (v stateView) ListFiles() []domain.File {
	return listRecords(v.state.files, nil)
}

func (v stateView) FindFile(id string) (domain.File, bool) {
	return getRecord(v.state.files, id)
}

func (v stateView) FindFileSet(datasetID string) (domain.FileSet, bool) {
	return getRecord(v.state.filesets, datasetID)
}

func (v stateView) ListV2SyncStatuses() []domain.V2SyncStatus {
	return listRecords(v.state.syncs, nil)
}

func (v stateView) FindV2SyncStatus(datasetID string) (domain.V2SyncStatus, bool) {
	return getRecord(v.state.syncs, datasetID)
}

func (v stateView) ListREMSEntities() []domain.REMSEntity {
	return listRecords(v.state.rems, nil)
}

func (v stateView) FindREMSEntity(id string) (domain.REMSEntity, bool) {
	return getRecord(v.state.rems, id)
}

func (v stateView) ListLegacyDatasets() []domain.LegacyDataset {
	return listRecords(v.state.legacy, nil)
}

func (v stateView) FindLegacyDataset(id string) (domain.LegacyDataset, bool) {
	return getRecord(v.state.legacy, id)
}
