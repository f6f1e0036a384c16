package memory

import "metax/pkg/domain"

var _ Transaction = (*transaction)(nil)

// CreateDataset stores a new dataset within the transaction.
func (tx *transaction) CreateDataset(d domain.Dataset) (domain.Dataset, error) {
	return createRecord(tx, domain.EntityDataset, &tx.state.datasets, d)
}

// UpdateDataset mutates a dataset using the provided mutator function.
func (tx *transaction) UpdateDataset(id string, mutator func(*domain.Dataset) error) (domain.Dataset, error) {
	return updateRecord(tx, domain.EntityDataset, &tx.state.datasets, id, mutator)
}

// DeleteDataset removes a dataset from the transaction state.
func (tx *transaction) DeleteDataset(id string) error {
	return deleteRecord[domain.Dataset](tx, domain.EntityDataset, &tx.state.datasets, id)
}

func (tx *transaction) CreateDatasetVersions(v domain.DatasetVersions) (domain.DatasetVersions, error) {
	return createRecord(tx, domain.EntityDatasetVersions, &tx.state.versions, v)
}

func (tx *transaction) UpdateDatasetVersions(id string, mutator func(*domain.DatasetVersions) error) (domain.DatasetVersions, error) {
	return updateRecord(tx, domain.EntityDatasetVersions, &tx.state.versions, id, mutator)
}

func (tx *transaction) DeleteDatasetVersions(id string) error {
	return deleteRecord[domain.DatasetVersions](tx, domain.EntityDatasetVersions, &tx.state.versions, id)
}

func (tx *transaction) CreateDatasetRevision(r domain.DatasetRevision) (domain.DatasetRevision, error) {
	return createRecord(tx, domain.EntityDatasetRevision, &tx.state.revisions, r)
}

func (tx *transaction) DeleteDatasetRevision(id string) error {
	return deleteRecord[domain.DatasetRevision](tx, domain.EntityDatasetRevision, &tx.state.revisions, id)
}

// CreateDataCatalog stores a new catalog.
func (tx *transaction) CreateDataCatalog(c domain.DataCatalog) (domain.DataCatalog, error) {
	return createRecord(tx, domain.EntityDataCatalog, &tx.state.catalogs, c)
}

func (tx *transaction) UpdateDataCatalog(id string, mutator func(*domain.DataCatalog) error) (domain.DataCatalog, error) {
	return updateRecord(tx, domain.EntityDataCatalog, &tx.state.catalogs, id, mutator)
}

func (tx *transaction) DeleteDataCatalog(id string) error {
	return deleteRecord[domain.DataCatalog](tx, domain.EntityDataCatalog, &tx.state.catalogs, id)
}

func (tx *transaction) CreateOrganization(o domain.Organization) (domain.Organization, error) {
	return createRecord(tx, domain.EntityOrganization, &tx.state.orgs, o)
}

func (tx *transaction) UpdateOrganization(id string, mutator func(*domain.Organization) error) (domain.Organization, error) {
	return updateRecord(tx, domain.EntityOrganization, &tx.state.orgs, id, mutator)
}

func (tx *transaction) DeleteOrganization(id string) error {
	return deleteRecord[domain.Organization](tx, domain.EntityOrganization, &tx.state.orgs, id)
}

func (tx *transaction) CreateContract(c domain.Contract) (domain.Contract, error) {
	return createRecord(tx, domain.EntityContract, &tx.state.contracts, c)
}

func (tx *transaction) UpdateContract(id string, mutator func(*domain.Contract) error) (domain.Contract, error) {
	return updateRecord(tx, domain.EntityContract, &tx.state.contracts, id, mutator)
}

func (tx *transaction) DeleteContract(id string) error {
	return deleteRecord[domain.Contract](tx, domain.EntityContract, &tx.state.contracts, id)
}

// CreateConcept stores a reference data concept.
func (tx *transaction) CreateConcept(c domain.Concept) (domain.Concept, error) {
	return createRecord(tx, domain.EntityConcept, &tx.state.concepts, c)
}

func (tx *transaction) UpdateConcept(id string, mutator func(*domain.Concept) error) (domain.Concept, error) {
	return updateRecord(tx, domain.EntityConcept, &tx.state.concepts, id, mutator)
}

func (tx *transaction) DeleteConcept(id string) error {
	return deleteRecord[domain.Concept](tx, domain.EntityConcept, &tx.state.concepts, id)
}

func (tx *transaction) CreateFileStorage(s domain.FileStorage) (domain.FileStorage, error) {
	return createRecord(tx, domain.EntityFileStorage, &tx.state.storages, s)
}

func (tx *transaction) DeleteFileStorage(id string) error {
	return deleteRecord[domain.FileStorage](tx, domain.EntityFileStorage, &tx.state.storages, id)
}

// CreateFile stores a file record.
func (tx *transaction) CreateFile(f domain.File) (domain.File, error) {
	return createRecord(tx, domain.EntityFile, &tx.state.files, f)
}

func (tx *transaction) UpdateFile(id string, mutator func(*domain.File) error) (domain.File, error) {
	return updateRecord(tx, domain.EntityFile, &tx.state.files, id, mutator)
}

func (tx *transaction) DeleteFile(id string) error {
	return deleteRecord[domain.File](tx, domain.EntityFile, &tx.state.files, id)
}

// CreateFileSet attaches a file set to the dataset named by its ID.
func (tx *transaction) CreateFileSet(fs domain.FileSet) (domain.FileSet, error) {
	return createRecord(tx, domain.EntityFileSet, &tx.state.filesets, fs)
}

func (tx *transaction) UpdateFileSet(datasetID string, mutator func(*domain.FileSet) error) (domain.FileSet, error) {
	return updateRecord(tx, domain.EntityFileSet, &tx.state.filesets, datasetID, mutator)
}

func (tx *transaction) DeleteFileSet(datasetID string) error {
	return deleteRecord[domain.FileSet](tx, domain.EntityFileSet, &tx.state.filesets, datasetID)
}

func (tx *transaction) CreateV2SyncStatus(s domain.V2SyncStatus) (domain.V2SyncStatus, error) {
	return createRecord(tx, domain.EntityV2SyncStatus, &tx.state.syncs, s)
}

func (tx *transaction) UpdateV2SyncStatus(datasetID string, mutator func(*domain.V2SyncStatus) error) (domain.V2SyncStatus, error) {
	return updateRecord(tx, domain.EntityV2SyncStatus, &tx.state.syncs, datasetID, mutator)
}

func (tx *transaction) DeleteV2SyncStatus(datasetID string) error {
	return deleteRecord[domain.V2SyncStatus](tx, domain.EntityV2SyncStatus, &tx.state.syncs, datasetID)
}

func (tx *transaction) CreateREMSEntity(e domain.REMSEntity) (domain.REMSEntity, error) {
	return createRecord(tx, domain.EntityREMSEntity, &tx.state.rems, e)
}

func (tx *transaction) UpdateREMSEntity(id string, mutator func(*domain.REMSEntity) error) (domain.REMSEntity, error) {
	return updateRecord(tx, domain.EntityREMSEntity, &tx.state.rems, id, mutator)
}

func (tx *transaction) CreateLegacyDataset(l domain.LegacyDataset) (domain.LegacyDataset, error) {
	return createRecord(tx, domain.EntityLegacyDataset, &tx.state.legacy, l)
}

func (tx *transaction) UpdateLegacyDataset(id string, mutator func(*domain.LegacyDataset) error) (domain.LegacyDataset, error) {
	return updateRecord(tx, domain.EntityLegacyDataset, &tx.state.legacy, id, mutator)
}
