package graph

import "fmt"

// PackageMissing is returned when a requested reference can't be satisfied by the lockfile
type PackageMissing struct {
	Ref    string
	Reason string
}

var _ error = (*PackageMissing)(nil)

func (e *PackageMissing) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("The package %s could not be resolved: %s.", e.Ref, e.Reason)
	}
	return fmt.Sprintf("The package %s is missing from the lockfile.", e.Ref)
}

// MetadataMissing is returned when a resolved package lacks information a generator needs
type MetadataMissing struct {
	Ref   string
	Field string
}

var _ error = (*MetadataMissing)(nil)

func (e *MetadataMissing) Error() string {
	return fmt.Sprintf("The package %s does not provide %s.", e.Ref, e.Field)
}
