// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package svc

import (
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	dd "github.com/livekit/scalability/pkg/sfu/rtpextension/dependencydescriptor"
)

var (
	scalingTwoToOne    = scalingFactor{num: 1, den: 2}
	scalingThreeToTwo  = scalingFactor{num: 2, den: 3}
	noInterLayerScales = scalingFactor{num: 1, den: 1}
)

type structureFactory func(logger logger.Logger) ScalableVideoController

func fullSvc(numSpatial, numTemporal int, scaling scalingFactor, protected []int, templates func() []*dd.FrameDependencyTemplate) structureFactory {
	return func(logger logger.Logger) ScalableVideoController {
		return NewFullSvc(numSpatial, numTemporal, scaling, protected, templates(), logger)
	}
}

func keySvc(numSpatial, numTemporal int, protected []int, templates func() []*dd.FrameDependencyTemplate) structureFactory {
	return func(logger logger.Logger) ScalableVideoController {
		return NewKeySvc(numSpatial, numTemporal, protected, templates(), logger)
	}
}

func simulcast(numSpatial, numTemporal int, scaling scalingFactor) structureFactory {
	return func(logger logger.Logger) ScalableVideoController {
		return NewSimulcast(numSpatial, numTemporal, scaling, logger)
	}
}

var structureFactories = map[ScalabilityMode]structureFactory{
	ScalabilityModeL1T1: func(logger logger.Logger) ScalableVideoController {
		return NewNoLayering(logger)
	},
	ScalabilityModeL1T2: fullSvc(1, 2, noInterLayerScales, []int{0, 0}, l1t2Templates),
	ScalabilityModeL1T3: fullSvc(1, 3, noInterLayerScales, []int{0, 0, 0}, l1t3Templates),

	ScalabilityModeL2T1:    fullSvc(2, 1, scalingTwoToOne, []int{0, 1}, l2t1Templates),
	ScalabilityModeL2T1h:   fullSvc(2, 1, scalingThreeToTwo, []int{0, 1}, l2t1Templates),
	ScalabilityModeL2T1Key: keySvc(2, 1, []int{0, 1}, l2t1KeyTemplates),
	ScalabilityModeL2T2:    fullSvc(2, 2, scalingTwoToOne, []int{0, 0, 1, 1}, l2t2Templates),
	ScalabilityModeL2T2h:   fullSvc(2, 2, scalingThreeToTwo, []int{0, 0, 1, 1}, l2t2Templates),
	ScalabilityModeL2T2Key: keySvc(2, 2, []int{0, 0, 1, 1}, l2t2KeyTemplates),
	ScalabilityModeL2T2KeyShift: func(logger logger.Logger) ScalableVideoController {
		return NewL2T2KeyShift(logger)
	},
	ScalabilityModeL2T3:    fullSvc(2, 3, scalingTwoToOne, []int{0, 0, 0, 1, 1, 1}, l2t3Templates),
	ScalabilityModeL2T3h:   fullSvc(2, 3, scalingThreeToTwo, []int{0, 0, 0, 1, 1, 1}, l2t3Templates),
	ScalabilityModeL2T3Key: keySvc(2, 3, []int{0, 0, 0, 1, 1, 1}, l2t3KeyTemplates),

	ScalabilityModeL3T1:    fullSvc(3, 1, scalingTwoToOne, []int{0, 1, 2}, l3t1Templates),
	ScalabilityModeL3T1h:   fullSvc(3, 1, scalingThreeToTwo, []int{0, 1, 2}, l3t1Templates),
	ScalabilityModeL3T1Key: keySvc(3, 1, []int{0, 1, 2}, l3t1KeyTemplates),
	ScalabilityModeL3T2:    fullSvc(3, 2, scalingTwoToOne, []int{0, 0, 1, 1, 2, 2}, l3t2Templates),
	ScalabilityModeL3T2h:   fullSvc(3, 2, scalingThreeToTwo, []int{0, 0, 1, 1, 2, 2}, l3t2Templates),
	ScalabilityModeL3T2Key: keySvc(3, 2, []int{0, 0, 1, 1, 2, 2}, l3t2KeyTemplates),
	ScalabilityModeL3T3:    fullSvc(3, 3, scalingTwoToOne, []int{0, 0, 0, 1, 1, 1, 2, 2, 2}, l3t3Templates),
	ScalabilityModeL3T3h:   fullSvc(3, 3, scalingThreeToTwo, []int{0, 0, 0, 1, 1, 1, 2, 2, 2}, l3t3Templates),
	ScalabilityModeL3T3Key: keySvc(3, 3, []int{0, 0, 0, 1, 1, 1, 2, 2, 2}, l3t3KeyTemplates),

	ScalabilityModeS2T1:  simulcast(2, 1, scalingTwoToOne),
	ScalabilityModeS2T1h: simulcast(2, 1, scalingThreeToTwo),
	ScalabilityModeS2T2:  simulcast(2, 2, scalingTwoToOne),
	ScalabilityModeS2T2h: simulcast(2, 2, scalingThreeToTwo),
	ScalabilityModeS2T3:  simulcast(2, 3, scalingTwoToOne),
	ScalabilityModeS2T3h: simulcast(2, 3, scalingThreeToTwo),
	ScalabilityModeS3T1:  simulcast(3, 1, scalingTwoToOne),
	ScalabilityModeS3T1h: simulcast(3, 1, scalingThreeToTwo),
	ScalabilityModeS3T2:  simulcast(3, 2, scalingTwoToOne),
	ScalabilityModeS3T2h: simulcast(3, 2, scalingThreeToTwo),
	ScalabilityModeS3T3:  simulcast(3, 3, scalingTwoToOne),
	ScalabilityModeS3T3h: simulcast(3, 3, scalingThreeToTwo),
}

// CreateScalabilityStructure returns a controller in its initial state; the
// first NextFrameConfig call produces key pictures.
func CreateScalabilityStructure(mode ScalabilityMode, logger logger.Logger) (ScalableVideoController, error) {
	factory, ok := structureFactories[mode]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedScalabilityMode, "%s", mode)
	}
	return factory(logger.WithValues("scalabilityMode", mode.String())), nil
}

func IsScalabilityModeSupported(mode ScalabilityMode) bool {
	_, ok := structureFactories[mode]
	return ok
}

// ScalabilityStructureConfig is the stream config of a supported mode without
// keeping a controller around.
func ScalabilityStructureConfig(mode ScalabilityMode) (StreamLayersConfig, bool) {
	factory, ok := structureFactories[mode]
	if !ok {
		return StreamLayersConfig{}, false
	}
	return factory(logger.GetLogger()).StreamConfig(), true
}
