package errors

// Process exit statuses
const (
	ExitOK            = 0
	ExitInternal      = 1
	ExitUsage         = 2
	ExitProvisioning  = 10
	ExitProject       = 11
	ExitConfiguration = 12
	ExitComponent     = 13
	ExitDeviceTree    = 14
	ExitPackaging     = 15
	ExitPublish       = 16
	ExitStorage       = 17
	ExitDatabase      = 18
)

// Common error codes used across domains
const (
	CodeNotFound      Code = "not_found"
	CodeAlreadyExists Code = "already_exists"
	CodeInvalid       Code = "invalid"
	CodeInternal      Code = "internal_error"
	CodeUnavailable   Code = "unavailable"
)

// ============================================================================
// Provisioning Errors
// ============================================================================

var (
	// ErrSourceUnsupported is returned for a source location with an unknown scheme
	ErrSourceUnsupported = New(DomainProvisioning, "unsupported_source", ExitProvisioning,
		"Unsupported source location")

	// ErrTransferFailed is returned when an artifact cannot be copied locally
	ErrTransferFailed = New(DomainProvisioning, "transfer_failed", ExitProvisioning,
		"Failed to transfer artifact")

	// ErrExtractFailed is returned when a toolchain archive cannot be unpacked
	ErrExtractFailed = New(DomainProvisioning, "extract_failed", ExitProvisioning,
		"Failed to extract toolchain archive")

	// ErrPermissions is returned when permissions cannot be normalized
	ErrPermissions = New(DomainProvisioning, "permissions", ExitProvisioning,
		"Failed to normalize permissions")

	// ErrPathResolution is returned when an artifact path cannot be resolved
	ErrPathResolution = New(DomainProvisioning, "path_resolution", ExitProvisioning,
		"Failed to resolve artifact path")

	// ErrToolchainInvalid is returned when the toolchain tree lacks its activation script
	ErrToolchainInvalid = New(DomainProvisioning, "toolchain_invalid", ExitProvisioning,
		"Toolchain installation is incomplete")
)

// ============================================================================
// Project Errors
// ============================================================================

var (
	// ErrProjectExists is returned when the build project directory already exists
	ErrProjectExists = New(DomainProject, CodeAlreadyExists, ExitProject,
		"Build project already exists")

	// ErrProjectCreate is returned when project creation from the template fails
	ErrProjectCreate = New(DomainProject, "create_failed", ExitProject,
		"Failed to create build project")

	// ErrHardwareImport is returned when the hardware description import fails
	ErrHardwareImport = New(DomainProject, "import_failed", ExitProject,
		"Failed to import hardware description")
)

// ============================================================================
// Configuration Errors
// ============================================================================

var (
	// ErrConfigRead is returned when the generated configuration cannot be read or written
	ErrConfigRead = New(DomainConfiguration, "io_failed", ExitConfiguration,
		"Failed to access build configuration")

	// ErrConfigInvariant is returned when the patched configuration violates an invariant
	ErrConfigInvariant = New(DomainConfiguration, "invariant_failed", ExitConfiguration,
		"Patched configuration violates invariants")
)

// ============================================================================
// Component Errors
// ============================================================================

var (
	// ErrComponentBuild is returned when a per-component toolchain build fails
	ErrComponentBuild = New(DomainComponent, "build_failed", ExitComponent,
		"Component build failed")

	// ErrComponentOutput is returned when a component build produced no output
	ErrComponentOutput = New(DomainComponent, "output_missing", ExitComponent,
		"Component build produced no output")
)

// ============================================================================
// Device Tree Errors
// ============================================================================

var (
	// ErrDecompile is returned when the device tree blob cannot be decompiled
	ErrDecompile = New(DomainDeviceTree, "decompile_failed", ExitDeviceTree,
		"Failed to decompile device tree")

	// ErrRecompile is returned when the device tree source cannot be compiled
	ErrRecompile = New(DomainDeviceTree, "recompile_failed", ExitDeviceTree,
		"Failed to compile device tree")

	// ErrSubstitution is returned when the compatibility substitution is malformed
	ErrSubstitution = New(DomainDeviceTree, "substitution_failed", ExitDeviceTree,
		"Invalid device tree substitution")
)

// ============================================================================
// Packaging Errors
// ============================================================================

var (
	// ErrMissingArtifact is returned when an artifact required for packaging is absent
	ErrMissingArtifact = New(DomainPackaging, "missing_artifact", ExitPackaging,
		"Required artifact is missing")

	// ErrStaleArtifact is returned when the device tree blob is older than its source
	ErrStaleArtifact = New(DomainPackaging, "stale_artifact", ExitPackaging,
		"Artifact is stale")

	// ErrPackageFailed is returned when the boot packaging invocation fails
	ErrPackageFailed = New(DomainPackaging, "package_failed", ExitPackaging,
		"Boot image packaging failed")
)

// ============================================================================
// Publish, Storage and Database Errors
// ============================================================================

var (
	// ErrPublishFailed is returned when uploading the boot image fails
	ErrPublishFailed = New(DomainPublish, "upload_failed", ExitPublish,
		"Failed to publish boot image")

	// ErrStorageNotFound is returned when a storage object cannot be found
	ErrStorageNotFound = New(DomainStorage, CodeNotFound, ExitStorage,
		"Object not found in storage")

	// ErrStorageTransfer is returned when an object cannot be written or read
	ErrStorageTransfer = New(DomainStorage, "transfer_failed", ExitStorage,
		"Storage transfer failed")

	// ErrStorageUnavailable is returned when the storage backend is unavailable
	ErrStorageUnavailable = New(DomainStorage, CodeUnavailable, ExitStorage,
		"Storage backend unavailable")

	// ErrDatabaseQuery is returned when a history database query fails
	ErrDatabaseQuery = New(DomainDatabase, "query_failed", ExitDatabase,
		"History database query failed")

	// ErrRunNotFound is returned when a run ID is not in the history database
	ErrRunNotFound = New(DomainDatabase, CodeNotFound, ExitDatabase,
		"Run not found")
)

// ============================================================================
// Validation and Internal Errors
// ============================================================================

var (
	// ErrMissingRequiredField is returned when a required input is missing
	ErrMissingRequiredField = New(DomainValidation, "missing_field", ExitUsage,
		"Missing required field")

	// ErrInvalidFieldValue is returned when an input value is invalid
	ErrInvalidFieldValue = New(DomainValidation, "invalid_value", ExitUsage,
		"Invalid field value")

	// ErrInternal is a generic internal error
	ErrInternal = New(DomainInternal, CodeInternal, ExitInternal,
		"Internal error")
)
