// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package xlator

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sync"

	"github.com/drone/envsubst"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/NVIDIA/xlclient/blunder"
)

type volumeSpecStruct struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Options    map[string]string `yaml:"options"`
	SubVolumes []string          `yaml:"subvolumes"`
}

type graphSpecStruct struct {
	Volumes []volumeSpecStruct `yaml:"volumes"`
}

var registry struct {
	sync.Mutex
	factoryMap map[string]TranslatorFactory
}

func registerType(typeName string, factory TranslatorFactory) {
	registry.Lock()
	defer registry.Unlock()

	if nil == registry.factoryMap {
		registry.factoryMap = make(map[string]TranslatorFactory)
	}

	registry.factoryMap[typeName] = factory
}

func lookupType(typeName string) (factory TranslatorFactory, ok bool) {
	registry.Lock()
	factory, ok = registry.factoryMap[typeName]
	registry.Unlock()
	return
}

func loadGraphFile(specFile string, volumeName string) (top Translator, err error) {
	var (
		specFileHandle *os.File
	)

	specFileHandle, err = os.Open(specFile)
	if nil != err {
		err = blunder.AddError(fmt.Errorf("os.Open(\"%s\") failed: %v", specFile, err), unix.ENOENT)
		return
	}
	defer func() {
		_ = specFileHandle.Close()
	}()

	top, err = loadGraph(specFileHandle, volumeName)

	return
}

func loadGraph(specReader io.Reader, volumeName string) (top Translator, err error) {
	var (
		buf          []byte
		child        Translator
		children     []Translator
		factory      TranslatorFactory
		graphSpec    graphSpecStruct
		ok           bool
		translator   Translator
		translatorOf map[string]Translator
		volumeSpec   volumeSpecStruct
		expanded     string
	)

	buf, err = ioutil.ReadAll(specReader)
	if nil != err {
		err = blunder.AddError(fmt.Errorf("reading volume spec failed: %v", err), unix.EIO)
		return
	}

	expanded, err = envsubst.Eval(string(buf), os.Getenv)
	if nil != err {
		err = blunder.AddError(fmt.Errorf("envsubst.Eval() of volume spec failed: %v", err), unix.EINVAL)
		return
	}

	err = yaml.Unmarshal([]byte(expanded), &graphSpec)
	if nil != err {
		err = blunder.AddError(fmt.Errorf("yaml.Unmarshal() of volume spec failed: %v", err), unix.EINVAL)
		return
	}

	if 0 == len(graphSpec.Volumes) {
		err = blunder.NewError(unix.EINVAL, "volume spec lists no volumes")
		return
	}

	translatorOf = make(map[string]Translator)

	for _, volumeSpec = range graphSpec.Volumes {
		if "" == volumeSpec.Name {
			err = blunder.NewError(unix.EINVAL, "volume of type \"%s\" has no name", volumeSpec.Type)
			return
		}
		if _, ok = translatorOf[volumeSpec.Name]; ok {
			err = blunder.NewError(unix.EINVAL, "volume \"%s\" defined more than once", volumeSpec.Name)
			return
		}

		factory, ok = lookupType(volumeSpec.Type)
		if !ok {
			err = blunder.NewError(unix.EINVAL, "volume \"%s\" has unknown type \"%s\"", volumeSpec.Name, volumeSpec.Type)
			return
		}

		children = make([]Translator, 0, len(volumeSpec.SubVolumes))

		for _, subVolumeName := range volumeSpec.SubVolumes {
			child, ok = translatorOf[subVolumeName]
			if !ok {
				err = blunder.NewError(unix.EINVAL, "volume \"%s\" references undefined subvolume \"%s\"", volumeSpec.Name, subVolumeName)
				return
			}
			children = append(children, child)
		}

		if nil == volumeSpec.Options {
			volumeSpec.Options = make(map[string]string)
		}

		translator, err = factory(volumeSpec.Name, volumeSpec.Options, children)
		if nil != err {
			err = blunder.AddError(fmt.Errorf("volume \"%s\" construction failed: %v", volumeSpec.Name, err), blunder.Errno(err))
			return
		}

		translatorOf[volumeSpec.Name] = translator
		top = translator
	}

	if "" != volumeName {
		top, ok = translatorOf[volumeName]
		if !ok {
			err = blunder.NewError(unix.EINVAL, "volume \"%s\" not found in volume spec", volumeName)
			return
		}
	}

	return
}

// InitGraph calls Init() on every translator beneath and including top,
// children first.
//
func InitGraph(top Translator) (err error) {
	for _, child := range top.Children() {
		err = InitGraph(child)
		if nil != err {
			return
		}
	}

	err = top.Init()

	return
}

// FiniGraph calls Fini() on top and then every translator beneath it. All
// translators are visited; the first error encountered is returned.
//
func FiniGraph(top Translator) (err error) {
	err = top.Fini()

	for _, child := range top.Children() {
		childErr := FiniGraph(child)
		if (nil == err) && (nil != childErr) {
			err = childErr
		}
	}

	return
}
