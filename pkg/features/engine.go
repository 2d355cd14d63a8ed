package features

import (
	"fmt"

	semver "github.com/Masterminds/semver/v3"
	"github.com/golang/glog"
)

// Version of the clock engine. Board descriptions written for an older
// engine can pin its behaviour with spec.engineVersion.
const Version = "1.2.0"

// Engine versions introducing features
var (
	VersionEngine10 = semver.MustParse("1.0.0")
	VersionEngine11 = semver.MustParse("1.1.0")
	VersionEngine12 = semver.MustParse("1.2.0")
)

func getEngineFeatures(versionStr string) (*Features, error) {
	if versionStr == "" {
		versionStr = Version
	}
	version, err := semver.NewVersion(versionStr)
	if err != nil {
		return nil, fmt.Errorf("invalid engine version %q: %w", versionStr, err)
	}
	if version.GreaterThan(semver.MustParse(Version)) {
		return nil, fmt.Errorf("engine version %s is newer than this daemon (%s)", version, Version)
	}
	glog.Infof("clock engine version is: %s", version)

	res := &Features{}
	if version.Compare(VersionEngine10) >= 0 {
		res.Engine.StrictAsserts = true
		res.Board.FlashLatency = true
		res.Board.TimerPrescaler = true
	}
	if version.Compare(VersionEngine11) >= 0 {
		res.Engine.RuntimeNotify = true
		res.Board.BackupDomain = true
	}
	if version.Compare(VersionEngine12) >= 0 {
		res.Engine.SetRate = true
		res.Engine.EnforceInactive = true
	}
	return res, nil
}
