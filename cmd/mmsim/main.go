/*
 * Copyright 2026 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command mmsim replays memory manager scenarios against a simulated
// capability space.
package main

import (
	"os"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/cloudwego/capmm/ramalloc"
)

var (
	app = kingpin.New("mmsim", "Replay capability memory manager scenarios.")

	logLevel = app.Flag("log-level", "Log level, overrides the scenario.").Short('l').String()

	runCmd   = app.Command("run", "Run a scenario file.")
	scenario = runCmd.Arg("scenario", "Scenario YAML file.").Required().ExistingFile()

	configCmd = app.Command("config", "Print the configuration in effect.")
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case runCmd.FullCommand():
		sc, err := LoadScenario(*scenario)
		app.FatalIfError(err, "load")
		if *logLevel != "" {
			sc.Config.LogLevel = *logLevel
		}
		log.SetLevel(sc.Config.Level())
		err = Run(os.Stdout, sc, log.WithField("prefix", "mmsim"))
		app.FatalIfError(err, "run")

	case configCmd.FullCommand():
		c, err := ramalloc.LoadConfig()
		app.FatalIfError(err, "config")
		enc := yaml.NewEncoder(os.Stdout)
		app.FatalIfError(enc.Encode(c), "encode")
		app.FatalIfError(enc.Close(), "encode")
	}
}
