package nixmate

import "sort"

// PackageChange is a package that appeared or disappeared between snapshots.
type PackageChange struct {
	Name    string
	Version string
}

// PackageUpdate is a package present in both snapshots with a changed version.
type PackageUpdate struct {
	Name       string
	OldVersion string
	NewVersion string
}

// DiffResult is the structural difference between the pre- and post-run
// snapshots. Computed only for succeeded runs.
type DiffResult struct {
	Added             []PackageChange
	Removed           []PackageChange
	Updated           []PackageUpdate
	ServicesRestarted []string
	KernelChanged     bool
	KernelOld         string
	KernelNew         string
	NixOSVersionOld   string
	NixOSVersionNew   string
}

// Changes returns the total number of package-level changes.
func (d *DiffResult) Changes() int {
	return len(d.Added) + len(d.Removed) + len(d.Updated)
}

// Diff compares two system snapshots. Packages are matched by name: a version
// change is reported as an update, never as an add+remove pair. Services
// whose monotonic start timestamp increased were restarted during activation.
func Diff(pre, post *SystemSnapshot) *DiffResult {
	d := &DiffResult{}

	// Equal fingerprints mean the package sets are identical; skip the walk.
	samePackages := pre.Fingerprint != "" && pre.Fingerprint == post.Fingerprint

	if !samePackages {
		for name, newVer := range post.Packages {
			oldVer, existed := pre.Packages[name]
			switch {
			case !existed:
				d.Added = append(d.Added, PackageChange{Name: name, Version: newVer})
			case oldVer != newVer && oldVer != "" && newVer != "":
				d.Updated = append(d.Updated, PackageUpdate{Name: name, OldVersion: oldVer, NewVersion: newVer})
			}
		}
		for name, oldVer := range pre.Packages {
			if _, exists := post.Packages[name]; !exists {
				d.Removed = append(d.Removed, PackageChange{Name: name, Version: oldVer})
			}
		}
		sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Name < d.Added[j].Name })
		sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Name < d.Removed[j].Name })
		sort.Slice(d.Updated, func(i, j int) bool { return d.Updated[i].Name < d.Updated[j].Name })
	}

	for unit, after := range post.Services {
		if before, known := pre.Services[unit]; known && after > before {
			d.ServicesRestarted = append(d.ServicesRestarted, unit)
		}
	}
	sort.Strings(d.ServicesRestarted)

	if pre.Kernel != "" && post.Kernel != "" && pre.Kernel != post.Kernel {
		d.KernelChanged = true
		d.KernelOld = pre.Kernel
		d.KernelNew = post.Kernel
	}
	if pre.NixOSVersion != post.NixOSVersion {
		d.NixOSVersionOld = pre.NixOSVersion
		d.NixOSVersionNew = post.NixOSVersion
	}
	return d
}
