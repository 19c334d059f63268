// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NVIDIA/fission"
	"github.com/drone/envsubst"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/NVIDIA/xlclient/blunder"
)

// MountConfigStruct describes a VMP to be mounted by Start().
//
type MountConfigStruct struct {
	VMP           string        `yaml:"VMP"`
	SpecFile      string        `yaml:"SpecFile"`
	VolumeName    string        `yaml:"VolumeName"`
	LogFile       string        `yaml:"LogFile"`
	LogLevel      string        `yaml:"LogLevel"`
	LookupTimeout time.Duration `yaml:"LookupTimeout"` // < 0 means "forever"
	StatTimeout   time.Duration `yaml:"StatTimeout"`   // < 0 means "forever"
}

// ConfigStruct holds the process-wide settings consumed by Start().
//
type ConfigStruct struct {
	LogFilePath  string `yaml:"LogFilePath"` // Unless starting with '/', relative to $CWD; == "" means disabled
	LogToConsole bool   `yaml:"LogToConsole"`
	TraceEnabled bool   `yaml:"TraceEnabled"`

	IOBufSize                uint64        `yaml:"IOBufSize"`
	ReaddirBlockSize         uint64        `yaml:"ReaddirBlockSize"`
	SendfileBlockSize        uint64        `yaml:"SendfileBlockSize"`
	MaxSymlinks              uint32        `yaml:"MaxSymlinks"`
	FDBase                   int           `yaml:"FDBase"`
	FramesUnwindPollInterval time.Duration `yaml:"FramesUnwindPollInterval"`
	ITableHashSize           uint64        `yaml:"ITableHashSize"`
	ITableLRULimit           uint64        `yaml:"ITableLRULimit"`

	HTTPServerIPAddr         string `yaml:"HTTPServerIPAddr"`
	HTTPServerPort           uint16 `yaml:"HTTPServerPort"` // To be served on HTTPServerIPAddr via TCP; == 0 means disabled
	HTTPServerMaxConnections int    `yaml:"HTTPServerMaxConnections"`

	FUSEEnabled              bool          `yaml:"FUSEEnabled"`
	FUSEVMP                  string        `yaml:"FUSEVMP"` // Must name one of Mounts[].VMP
	FUSEVolumeName           string        `yaml:"FUSEVolumeName"`
	FUSEMountPointDirPath    string        `yaml:"FUSEMountPointDirPath"`
	FUSEAllowOther           bool          `yaml:"FUSEAllowOther"`
	FUSEMaxRead              uint32        `yaml:"FUSEMaxRead"`
	FUSEMaxWrite             uint32        `yaml:"FUSEMaxWrite"`
	FUSEMaxBackground        uint16        `yaml:"FUSEMaxBackground"`
	FUSECongestionThreshhold uint16        `yaml:"FUSECongestionThreshhold"`
	FUSEEntryValidDuration   time.Duration `yaml:"FUSEEntryValidDuration"`
	FUSEAttrValidDuration    time.Duration `yaml:"FUSEAttrValidDuration"`
	FUSELogEnabled           bool          `yaml:"FUSELogEnabled"`

	Mounts []MountConfigStruct `yaml:"Mounts"`
}

type globalsStruct struct {
	sync.Mutex                                    // serializes Start()/Stop()
	config             ConfigStruct               //
	started            bool                       //
	logLock            sync.Mutex                 // protects logFile
	logFile            *os.File                   // == nil if config.LogFilePath == "" or closed by logSIGHUP()
	logger             *logrus.Logger             //
	stats              *statsStruct               //
	vmpRegistry        *vmpRegistryStruct         //
	fdTable            *fdTableStruct             //
	cwdLock            sync.Mutex                 // protects cwd
	cwd                string                     // always '/' terminated
	fuseClient         *clientStruct              // == nil unless config.FUSEEnabled
	fuseNodeLock       sync.Mutex                 // protects fuseNodeMap
	fuseNodeMap        map[uint64]*fuseNodeStruct // key == NodeID known to the kernel
	fissionErrChan     chan error                 //
	fissionVolume      fission.Volume             //
	httpServer         *http.Server               //
	httpServerWG       sync.WaitGroup             //
	fuseEntryValidSec  uint64                     //
	fuseEntryValidNSec uint32                     //
	fuseAttrValidSec   uint64                     //
	fuseAttrValidNSec  uint32                     //
}

var globals globalsStruct

const (
	defaultIOBufSize                = uint64(128 * 1024)
	defaultReaddirBlockSize         = uint64(4096)
	defaultSendfileBlockSize        = uint64(4096)
	defaultMaxSymlinks              = uint32(40)
	defaultFDBase                   = 3
	defaultFramesUnwindPollInterval = time.Second
	defaultITableHashSize           = uint64(14057)
	defaultITableLRULimit           = uint64(1024)
	defaultHTTPServerMaxConnections = 64
	defaultFUSEVolumeName           = "xlclient"
	defaultFUSEMaxRead              = uint32(128 * 1024)
	defaultFUSEMaxWrite             = uint32(128 * 1024)
	defaultFUSEMaxBackground        = uint16(100)
	defaultFUSECongestionThreshhold = uint16(0)
	defaultFUSEEntryValidDuration   = time.Second
	defaultFUSEAttrValidDuration    = time.Second
)

func init() {
	globals.logger = newGlobalLogger()
}

// DefaultConfig returns a ConfigStruct with every tunable at its default
// and both the HTTP server and FUSE disabled.
//
func DefaultConfig() (config *ConfigStruct) {
	config = &ConfigStruct{
		LogFilePath:              "",
		LogToConsole:             true,
		TraceEnabled:             false,
		IOBufSize:                defaultIOBufSize,
		ReaddirBlockSize:         defaultReaddirBlockSize,
		SendfileBlockSize:        defaultSendfileBlockSize,
		MaxSymlinks:              defaultMaxSymlinks,
		FDBase:                   defaultFDBase,
		FramesUnwindPollInterval: defaultFramesUnwindPollInterval,
		ITableHashSize:           defaultITableHashSize,
		ITableLRULimit:           defaultITableLRULimit,
		HTTPServerIPAddr:         "127.0.0.1",
		HTTPServerPort:           0,
		HTTPServerMaxConnections: defaultHTTPServerMaxConnections,
		FUSEEnabled:              false,
		FUSEVolumeName:           defaultFUSEVolumeName,
		FUSEMaxRead:              defaultFUSEMaxRead,
		FUSEMaxWrite:             defaultFUSEMaxWrite,
		FUSEMaxBackground:        defaultFUSEMaxBackground,
		FUSECongestionThreshhold: defaultFUSECongestionThreshhold,
		FUSEEntryValidDuration:   defaultFUSEEntryValidDuration,
		FUSEAttrValidDuration:    defaultFUSEAttrValidDuration,
		FUSELogEnabled:           false,
		Mounts:                   make([]MountConfigStruct, 0),
	}
	return
}

func loadConfigFile(configFilePath string) (config *ConfigStruct, err error) {
	var (
		configFile *os.File
	)

	configFile, err = os.Open(configFilePath)
	if nil != err {
		err = blunder.AddError(fmt.Errorf("os.Open(\"%s\") failed: %v", configFilePath, err), unix.ENOENT)
		return
	}
	defer func() {
		_ = configFile.Close()
	}()

	config, err = loadConfig(configFile)

	return
}

func loadConfig(configReader io.Reader) (config *ConfigStruct, err error) {
	var (
		buf      []byte
		expanded string
	)

	buf, err = ioutil.ReadAll(configReader)
	if nil != err {
		err = blunder.AddError(fmt.Errorf("reading config failed: %v", err), unix.EIO)
		return
	}

	expanded, err = envsubst.Eval(string(buf), os.Getenv)
	if nil != err {
		err = blunder.AddError(fmt.Errorf("envsubst.Eval() of config failed: %v", err), unix.EINVAL)
		return
	}

	config = DefaultConfig()

	err = yaml.Unmarshal([]byte(expanded), config)
	if nil != err {
		err = blunder.AddError(fmt.Errorf("yaml.Unmarshal() of config failed: %v", err), unix.EINVAL)
		config = nil
		return
	}

	err = config.validate()
	if nil != err {
		config = nil
	}

	return
}

func (config *ConfigStruct) validate() (err error) {
	var (
		fuseVMPFound bool
		mountConfig  MountConfigStruct
	)

	if 0 == config.IOBufSize {
		err = blunder.NewError(unix.EINVAL, "IOBufSize must be non-zero")
		return
	}
	if 0 == config.ReaddirBlockSize {
		err = blunder.NewError(unix.EINVAL, "ReaddirBlockSize must be non-zero")
		return
	}
	if 0 == config.SendfileBlockSize {
		err = blunder.NewError(unix.EINVAL, "SendfileBlockSize must be non-zero")
		return
	}
	if 0 == config.MaxSymlinks {
		err = blunder.NewError(unix.EINVAL, "MaxSymlinks must be non-zero")
		return
	}
	if config.FDBase < 0 {
		err = blunder.NewError(unix.EINVAL, "FDBase (%d) must not be negative", config.FDBase)
		return
	}
	if config.FramesUnwindPollInterval <= 0 {
		err = blunder.NewError(unix.EINVAL, "FramesUnwindPollInterval must be positive")
		return
	}
	if 0 == config.ITableHashSize {
		err = blunder.NewError(unix.EINVAL, "ITableHashSize must be non-zero")
		return
	}
	if (0 != config.HTTPServerPort) && (config.HTTPServerMaxConnections <= 0) {
		err = blunder.NewError(unix.EINVAL, "HTTPServerMaxConnections must be positive")
		return
	}

	for _, mountConfig = range config.Mounts {
		if "" == mountConfig.VMP {
			err = blunder.NewError(unix.EINVAL, "Mounts[] entry missing VMP")
			return
		}
		if "" == mountConfig.SpecFile {
			err = blunder.NewError(unix.EINVAL, "Mounts[] entry for VMP \"%s\" missing SpecFile", mountConfig.VMP)
			return
		}
		if mountConfig.VMP == config.FUSEVMP {
			fuseVMPFound = true
		}
	}

	if config.FUSEEnabled {
		if "" == config.FUSEMountPointDirPath {
			err = blunder.NewError(unix.EINVAL, "FUSEEnabled requires FUSEMountPointDirPath")
			return
		}
		if !fuseVMPFound {
			err = blunder.NewError(unix.EINVAL, "FUSEVMP \"%s\" does not name any Mounts[] entry", config.FUSEVMP)
			return
		}
	}

	return
}

func initializeGlobals(config *ConfigStruct) (err error) {
	var (
		configJSONified []byte
	)

	if nil == config {
		config = DefaultConfig()
	} else {
		err = config.validate()
		if nil != err {
			return
		}
	}

	globals.config = *config
	globals.config.Mounts = append([]MountConfigStruct(nil), config.Mounts...)

	globals.logFile = nil
	configureGlobalLogger()

	configJSONified, err = json.Marshal(globals.config)
	if nil != err {
		logFatal(err)
	}

	logInfof("globals.config:\n%s", string(configJSONified))

	globals.fuseEntryValidSec, globals.fuseEntryValidNSec = nsToUnixTime(uint64(globals.config.FUSEEntryValidDuration))
	globals.fuseAttrValidSec, globals.fuseAttrValidNSec = nsToUnixTime(uint64(globals.config.FUSEAttrValidDuration))

	globals.stats = newStats()
	globals.vmpRegistry = newVMPRegistry()
	globals.fdTable = newFDTable()

	globals.cwd, err = os.Getwd()
	if nil != err {
		globals.cwd = "/"
		err = nil
	}
	if '/' != globals.cwd[len(globals.cwd)-1] {
		globals.cwd += "/"
	}

	return
}

func uninitializeGlobals() (err error) {
	globals.config = ConfigStruct{}

	globals.fuseEntryValidSec = 0
	globals.fuseEntryValidNSec = 0
	globals.fuseAttrValidSec = 0
	globals.fuseAttrValidNSec = 0

	globals.stats = nil
	globals.vmpRegistry = nil
	globals.fdTable = nil
	globals.fuseClient = nil
	globals.cwd = ""

	logSIGHUP()
	configureGlobalLogger()

	err = nil
	return
}
