package memory

import "metax/pkg/domain"

type memoryState struct {
	datasets  map[string]domain.Dataset
	versions  map[string]domain.DatasetVersions
	revisions map[string]domain.DatasetRevision
	catalogs  map[string]domain.DataCatalog
	orgs      map[string]domain.Organization
	contracts map[string]domain.Contract
	concepts  map[string]domain.Concept
	storages  map[string]domain.FileStorage
	files     map[string]domain.File
	filesets  map[string]domain.FileSet
	syncs     map[string]domain.V2SyncStatus
	rems      map[string]domain.REMSEntity
	legacy    map[string]domain.LegacyDataset
}

// Snapshot captures a point-in-time copy of the store state. Each field is a
// persistence bucket named after its entity type.
type Snapshot struct {
	Datasets         map[string]domain.Dataset         `json:"dataset"`
	DatasetVersions  map[string]domain.DatasetVersions `json:"dataset_versions"`
	DatasetRevisions map[string]domain.DatasetRevision `json:"dataset_revision"`
	DataCatalogs     map[string]domain.DataCatalog     `json:"data_catalog"`
	Organizations    map[string]domain.Organization    `json:"organization"`
	Contracts        map[string]domain.Contract        `json:"contract"`
	Concepts         map[string]domain.Concept         `json:"concept"`
	FileStorages     map[string]domain.FileStorage     `json:"file_storage"`
	Files            map[string]domain.File            `json:"file"`
	FileSets         map[string]domain.FileSet         `json:"file_set"`
	V2SyncStatuses   map[string]domain.V2SyncStatus    `json:"v2_sync_status"`
	REMSEntities     map[string]domain.REMSEntity      `json:"rems_entity"`
	LegacyDatasets   map[string]domain.LegacyDataset   `json:"legacy_dataset"`
}

// Buckets lists the persistence bucket names in a stable order.
var Buckets = []domain.EntityType{
	domain.EntityDataset,
	domain.EntityDatasetVersions,
	domain.EntityDatasetRevision,
	domain.EntityDataCatalog,
	domain.EntityOrganization,
	domain.EntityContract,
	domain.EntityConcept,
	domain.EntityFileStorage,
	domain.EntityFile,
	domain.EntityFileSet,
	domain.EntityV2SyncStatus,
	domain.EntityREMSEntity,
	domain.EntityLegacyDataset,
}

// Bucket returns a pointer to the bucket map for kind so callers can decode
// into or encode from it. Unknown kinds return nil.
func (s *Snapshot) Bucket(kind domain.EntityType) any {
	switch kind {
	case domain.EntityDataset:
		return &s.Datasets
	case domain.EntityDatasetVersions:
		return &s.DatasetVersions
	case domain.EntityDatasetRevision:
		return &s.DatasetRevisions
	case domain.EntityDataCatalog:
		return &s.DataCatalogs
	case domain.EntityOrganization:
		return &s.Organizations
	case domain.EntityContract:
		return &s.Contracts
	case domain.EntityConcept:
		return &s.Concepts
	case domain.EntityFileStorage:
		return &s.FileStorages
	case domain.EntityFile:
		return &s.Files
	case domain.EntityFileSet:
		return &s.FileSets
	case domain.EntityV2SyncStatus:
		return &s.V2SyncStatuses
	case domain.EntityREMSEntity:
		return &s.REMSEntities
	case domain.EntityLegacyDataset:
		return &s.LegacyDatasets
	}
	return nil
}

func newMemoryState() memoryState {
	return memoryStateFromSnapshot(Snapshot{})
}

func orEmpty[T any](m map[string]T) map[string]T {
	if m == nil {
		return map[string]T{}
	}
	return m
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	return Snapshot{
		Datasets:         state.datasets,
		DatasetVersions:  state.versions,
		DatasetRevisions: state.revisions,
		DataCatalogs:     state.catalogs,
		Organizations:    state.orgs,
		Contracts:        state.contracts,
		Concepts:         state.concepts,
		FileStorages:     state.storages,
		Files:            state.files,
		FileSets:         state.filesets,
		V2SyncStatuses:   state.syncs,
		REMSEntities:     state.rems,
		LegacyDatasets:   state.legacy,
	}
}

// memoryStateFromSnapshot takes ownership of the snapshot maps and replaces
// missing buckets with empty ones.
func memoryStateFromSnapshot(s Snapshot) memoryState {
	return memoryState{
		datasets:  orEmpty(s.Datasets),
		versions:  orEmpty(s.DatasetVersions),
		revisions: orEmpty(s.DatasetRevisions),
		catalogs:  orEmpty(s.DataCatalogs),
		orgs:      orEmpty(s.Organizations),
		contracts: orEmpty(s.Contracts),
		concepts:  orEmpty(s.Concepts),
		storages:  orEmpty(s.FileStorages),
		files:     orEmpty(s.Files),
		filesets:  orEmpty(s.FileSets),
		syncs:     orEmpty(s.V2SyncStatuses),
		rems:      orEmpty(s.REMSEntities),
		legacy:    orEmpty(s.LegacyDatasets),
	}
}
