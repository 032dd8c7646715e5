package domain

import "errors"

var (
	// ErrNotFound indicates a requested investigations record was not found.
	ErrNotFound = errors.New("investigation record not found")
	// ErrConflict indicates a write conflicted with existing state.
	ErrConflict = errors.New("investigation record conflict")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("investigation store is not configured")
	// ErrRegistryNotConfigured indicates the service is missing an investigator registry.
	ErrRegistryNotConfigured = errors.New("investigator registry is not configured")
	// ErrIDGeneratorNotConfigured indicates an ID generator is required.
	ErrIDGeneratorNotConfigured = errors.New("investigation id generator is not configured")
	// ErrUnknownType indicates an investigator type code is not registered.
	ErrUnknownType = errors.New("unknown investigator type")
	// ErrTypeCodeRequired indicates an investigator type code is required.
	ErrTypeCodeRequired = errors.New("investigator type code is required")
	// ErrTypeInactive indicates the catalog entry exists but is disabled.
	ErrTypeInactive = errors.New("investigator type is inactive")
	// ErrInstanceNameRequired indicates an instance name is required.
	ErrInstanceNameRequired = errors.New("investigator name is required")
	// ErrInstanceIDRequired indicates an instance ID is required.
	ErrInstanceIDRequired = errors.New("investigator id is required")
	// ErrExecutionIDRequired indicates an execution ID is required.
	ErrExecutionIDRequired = errors.New("execution id is required")
	// ErrReporterRequired indicates an investigator was built without a report path.
	ErrReporterRequired = errors.New("finding reporter is required")
	// ErrRecordSourceRequired indicates an investigator was built without business records.
	ErrRecordSourceRequired = errors.New("record source is required")
)
