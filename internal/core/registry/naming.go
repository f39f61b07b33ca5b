package registry

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// ServiceHostname derives the network location apps use to reach an addon
// instance, unless the credential bundle pins an explicit HOST.
// Pattern: berth_{project}_{typeID}_{instanceName}
//
// Example:
//
//	ServiceHostname("shop", "postgres", "primary") // returns "berth_shop_postgres_primary"
func ServiceHostname(project, typeID, instanceName string) string {
	return fmt.Sprintf("berth_%s_%s_%s", project, typeID, instanceName)
}

// VolumeName generates the data volume name for an addon instance.
// Pattern: berth_{project}_{typeID}_{instanceName}_data
func VolumeName(project, typeID, instanceName string) string {
	return fmt.Sprintf("berth_%s_%s_%s_data", project, typeID, instanceName)
}
