package gradle

// The downloadDependencies task prints one report line per resolved
// artifact; ParseDependencies reads them back.
const buildGradleTemplate = `buildscript {
    repositories {
        google()
        mavenCentral()
    }
    dependencies {
        classpath 'com.android.tools.build:gradle:{{gradle_plugin_version}}'
    }
}

apply plugin: 'com.android.library'

repositories {
    google()
    mavenCentral()
}

android {
    namespace 'com.defold.extender.dependencies'
    compileSdkVersion {{compile_sdk_version}}
}

dependencyLocking {
    lockAllConfigurations()
    lockFile = file("$buildDir/gradle.lockfile")
}

{{#gradle_files}}
apply from: '{{.}}'
{{/gradle_files}}

task downloadDependencies {
    doLast {
        configurations.releaseCompileClasspath.resolvedConfiguration.resolvedArtifacts.each { a ->
            def id = a.moduleVersion.id
            println "PATH: ${a.file} EXTENSION: ${a.extension} TYPE: ${a.type} MODULE_GROUP: ${id.group} MODULE_NAME: ${id.name} MODULE_VERSION: ${id.version}"
        }
    }
}
`

const gradlePropertiesTemplate = `org.gradle.jvmargs=-Xmx2048m
android.useAndroidX=true
android.enableJetifier={{android_enable_jetifier}}
`

const localPropertiesTemplate = `sdk.dir={{android_sdk_root}}
`
