package domain

import "context"

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	FindDatasetVersions(id string) (DatasetVersions, bool)
	ListDatasetRevisions(datasetID string) []DatasetRevision
	ListOrganizations() []Organization
	FindOrganization(id string) (Organization, bool)
	ListContracts() []Contract
	FindContract(id string) (Contract, bool)
	FindConcept(id string) (Concept, bool)
	FindFileStorage(id string) (FileStorage, bool)
	FindFileSet(datasetID string) (FileSet, bool)
	FindV2SyncStatus(datasetID string) (V2SyncStatus, bool)
	FindREMSEntity(id string) (REMSEntity, bool)
	ListLegacyDatasets() []LegacyDataset
	FindLegacyDataset(id string) (LegacyDataset, bool)
}

// Transaction exposes the catalog operations that a persistence
// implementation must support within an atomic scope.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView

	CreateDataset(Dataset) (Dataset, error)
	UpdateDataset(id string, mutator func(*Dataset) error) (Dataset, error)
	DeleteDataset(id string) error
	CreateDatasetVersions(DatasetVersions) (DatasetVersions, error)
	UpdateDatasetVersions(id string, mutator func(*DatasetVersions) error) (DatasetVersions, error)
	DeleteDatasetVersions(id string) error
	CreateDatasetRevision(DatasetRevision) (DatasetRevision, error)
	DeleteDatasetRevision(id string) error
	CreateDataCatalog(DataCatalog) (DataCatalog, error)
	UpdateDataCatalog(id string, mutator func(*DataCatalog) error) (DataCatalog, error)
	DeleteDataCatalog(id string) error
	CreateOrganization(Organization) (Organization, error)
	UpdateOrganization(id string, mutator func(*Organization) error) (Organization, error)
	DeleteOrganization(id string) error
	CreateContract(Contract) (Contract, error)
	UpdateContract(id string, mutator func(*Contract) error) (Contract, error)
	DeleteContract(id string) error
	CreateConcept(Concept) (Concept, error)
	UpdateConcept(id string, mutator func(*Concept) error) (Concept, error)
	DeleteConcept(id string) error
	CreateFileStorage(FileStorage) (FileStorage, error)
	DeleteFileStorage(id string) error
	CreateFile(File) (File, error)
	UpdateFile(id string, mutator func(*File) error) (File, error)
	DeleteFile(id string) error
	CreateFileSet(FileSet) (FileSet, error)
	UpdateFileSet(datasetID string, mutator func(*FileSet) error) (FileSet, error)
	DeleteFileSet(datasetID string) error
	CreateV2SyncStatus(V2SyncStatus) (V2SyncStatus, error)
	UpdateV2SyncStatus(datasetID string, mutator func(*V2SyncStatus) error) (V2SyncStatus, error)
	DeleteV2SyncStatus(datasetID string) error
	CreateREMSEntity(REMSEntity) (REMSEntity, error)
	UpdateREMSEntity(id string, mutator func(*REMSEntity) error) (REMSEntity, error)
	CreateLegacyDataset(LegacyDataset) (LegacyDataset, error)
	UpdateLegacyDataset(id string, mutator func(*LegacyDataset) error) (LegacyDataset, error)
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Ping(ctx context.Context) error
}
