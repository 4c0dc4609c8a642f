// SPDX-License-Identifier: MPL-2.0

package preprocess

const (
	// SeverityWarning indicates a recoverable preprocessing warning.
	SeverityWarning Severity = "warning"
	// SeverityError indicates a module-local failure. The pass still completes.
	SeverityError Severity = "error"
)

// Diagnostic codes.
const (
	CodeScanFailed         = "module_scan_failed"
	CodeDuplicateModule    = "duplicate_module"
	CodeDirectoryMissing   = "directory_not_found"
	CodeDuplicateTemplate  = "duplicate_template"
	CodeTemplateError      = "template_error"
	CodeTemplateOutside    = "template_outside_tree"
	CodeArchiveTemplates   = "archive_templates_skipped"
	CodeInstallFailed      = "install_action_failed"
	CodeMissingRequirement = "missing_requirement"
	CodeDependencyCycle    = "dependency_cycle"
)

type (
	// Severity represents diagnostic severity.
	Severity string

	// Diagnostic is a structured, non-fatal finding returned in the Report
	// rather than written to stderr, so the CLI owns the rendering policy.
	Diagnostic struct {
		// Severity is the diagnostic level (warning or error).
		Severity Severity `json:"severity"`
		// Code is a machine-readable identifier (e.g., "module_scan_failed").
		Code string `json:"code"`
		// Message is the human-readable description.
		Message string `json:"message"`
		// Module is the module the diagnostic concerns (optional).
		Module string `json:"module,omitempty"`
		// Path is the file path associated with this diagnostic (optional).
		Path string `json:"path,omitempty"`
		// Cause is the underlying error (optional, for programmatic inspection).
		Cause error `json:"-"`
	}
)

func newDiagnostic(sev Severity, code, path string, err error) Diagnostic {
	return Diagnostic{Severity: sev, Code: code, Message: err.Error(), Path: path, Cause: err}
}
